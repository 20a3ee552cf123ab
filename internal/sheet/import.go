package sheet

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Adder creates one manual prospect.
type Adder interface {
	Add(ctx context.Context, in discovery.ManualInput) (*model.Prospect, error)
}

// RowError records why an input row was not imported. Row is 1-based and
// counts the header.
type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Added      int        `json:"added"`
	Duplicates int        `json:"duplicates"`
	Invalid    int        `json:"invalid"`
	Errors     []RowError `json:"errors,omitempty"`
}

var headerAliases = map[string]string{
	"website":  "website",
	"url":      "website",
	"domain":   "website",
	"site":     "website",
	"platform": "platform",
	"network":  "platform",
	"username": "username",
	"handle":   "username",
	"name":     "name",
	"company":  "name",
	"business": "name",
	"email":    "email",
	"contact":  "email",
	"category": "category",
	"industry": "category",
	"location": "location",
	"city":     "location",
	"keywords": "keywords",
	"tags":     "keywords",
}

// columns maps field names to column indexes.
type columns map[string]int

// parseHeader resolves the header row. It needs a website column or both
// platform and username columns.
func parseHeader(row []string) (columns, error) {
	c := columns{}
	for i, h := range row {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
		if field, ok := headerAliases[key]; ok {
			if _, dup := c[field]; !dup {
				c[field] = i
			}
		}
	}
	_, hasWebsite := c["website"]
	_, hasPlatform := c["platform"]
	_, hasUsername := c["username"]
	if !hasWebsite && !(hasPlatform && hasUsername) {
		return nil, eris.New("sheet: header needs a website column or platform and username columns")
	}
	return c, nil
}

func (c columns) get(row []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (c columns) input(row []string) discovery.ManualInput {
	in := discovery.ManualInput{
		Website:  c.get(row, "website"),
		Platform: c.get(row, "platform"),
		Username: c.get(row, "username"),
		Name:     c.get(row, "name"),
		Email:    c.get(row, "email"),
		Category: c.get(row, "category"),
		Location: c.get(row, "location"),
	}
	if kw := c.get(row, "keywords"); kw != "" {
		for _, k := range strings.FieldsFunc(kw, func(r rune) bool { return r == ';' || r == ',' || r == '|' }) {
			if k = strings.TrimSpace(k); k != "" {
				in.Keywords = append(in.Keywords, k)
			}
		}
	}
	return in
}

func blank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}

// Import adds one manual prospect per data row. The first non-blank row is
// the header. Invalid rows and duplicates are counted, not fatal; a store
// failure stops the import.
func Import(ctx context.Context, a Adder, rows <-chan []string, errs <-chan error) (ImportResult, error) {
	var (
		res  ImportResult
		cols columns
		n    int
	)
	log := zap.L().With(zap.String("component", "sheet.import"))

	for row := range rows {
		n++
		if blank(row) {
			continue
		}
		if cols == nil {
			c, err := parseHeader(row)
			if err != nil {
				drain(rows)
				return res, err
			}
			cols = c
			continue
		}

		in := cols.input(row)
		if _, err := discovery.ManualProspect(in); err != nil {
			res.Invalid++
			res.Errors = append(res.Errors, RowError{Row: n, Err: err.Error()})
			continue
		}
		_, err := a.Add(ctx, in)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			res.Duplicates++
		case err != nil:
			drain(rows)
			return res, eris.Wrapf(err, "sheet: import row %d", n)
		default:
			res.Added++
		}
	}
	for err := range errs {
		if err != nil {
			return res, err
		}
	}
	if cols == nil {
		return res, eris.New("sheet: file is empty")
	}

	log.Info("import complete",
		zap.Int("added", res.Added),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("invalid", res.Invalid),
	)
	return res, nil
}

func drain(rows <-chan []string) {
	go func() {
		for range rows {
		}
	}()
}
