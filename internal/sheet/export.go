package sheet

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Header is the export column order.
var Header = []string{
	"Name", "Natural Key", "Platform", "Website", "Email", "Email Confidence",
	"Stage", "Score", "Category", "Location", "Keywords", "Manual",
	"Sent At", "Follow Ups", "Created At",
}

// Row renders one prospect in Header order.
func Row(p model.Prospect) []string {
	platform := p.Platform
	if p.SourceKind == model.SourceWebsite {
		platform = "website"
	}
	return []string{
		p.DisplayName(),
		p.NaturalKey,
		platform,
		p.Website,
		p.ContactEmail,
		optFloat(p.EmailConfidence),
		string(p.Stage),
		optFloat(p.Score),
		p.Category,
		p.Location,
		strings.Join(p.Keywords, "; "),
		strconv.FormatBool(p.IsManual),
		optTime(p.SentAt),
		strconv.Itoa(p.FollowUps),
		p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type lister interface {
	ListProspects(ctx context.Context, filter store.ProspectFilter) ([]model.Prospect, error)
}

const pageSize = 500

// Collect pages through every prospect matching filter, highest score
// first. filter.Limit caps the total; zero means no cap.
func Collect(ctx context.Context, l lister, filter store.ProspectFilter) ([]model.Prospect, error) {
	limit := filter.Limit
	var out []model.Prospect
	for offset := 0; ; offset += pageSize {
		f := filter
		f.Limit = pageSize
		f.Offset = offset
		page, err := l.ListProspects(ctx, f)
		if err != nil {
			return nil, eris.Wrap(err, "sheet: list prospects")
		}
		out = append(out, page...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// WriteXLSX writes prospects as a single-sheet workbook.
func WriteXLSX(w io.Writer, ps []model.Prospect) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Prospects")
	if err != nil {
		return eris.Wrap(err, "sheet: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range Header {
		header.AddCell().SetString(h)
	}

	for _, p := range ps {
		row := sheet.AddRow()
		for i, v := range Row(p) {
			cell := row.AddCell()
			switch {
			case v == "":
				cell.SetString("")
			case Header[i] == "Score" || Header[i] == "Email Confidence":
				n, _ := strconv.ParseFloat(v, 64)
				cell.SetFloat(n)
			case Header[i] == "Follow Ups":
				n, _ := strconv.Atoi(v)
				cell.SetInt(n)
			default:
				cell.SetString(v)
			}
		}
	}

	return eris.Wrap(f.Write(w), "sheet: write xlsx")
}

// WriteCSV writes prospects as CSV with a header row.
func WriteCSV(w io.Writer, ps []model.Prospect) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "sheet: write csv header")
	}
	for _, p := range ps {
		if err := cw.Write(Row(p)); err != nil {
			return eris.Wrap(err, "sheet: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "sheet: flush csv")
}
