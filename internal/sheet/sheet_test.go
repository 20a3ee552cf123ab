package sheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sheet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestStreamCSV_TrimsAndSkipsComments(t *testing.T) {
	input := "# exported list\nwebsite , name\n example.com ,  Example \nshort\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input))
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"website", "name"}, rows[0])
	assert.Equal(t, []string{"example.com", "Example"}, rows[1])
	assert.Equal(t, []string{"short"}, rows[2])
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a\nb\n"))
	_, err := collectRows(t, rowCh, errCh)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadXLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{{"Website", "Name"}, {"a.com", "A"}})

	rows, err := ReadXLSX(path, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Website", "Name"}, {"a.com", "A"}}, rows)

	_, err = ReadXLSX(path, "Missing")
	assert.Error(t, err)
}

func TestOpen_PicksFormatByExtension(t *testing.T) {
	xl := writeXLSX(t, [][]string{{"Website"}, {"b.com"}})
	rowCh, errCh := Open(context.Background(), xl)
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	csvPath := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("website\nc.com\nd.com\n"), 0o644))
	rowCh, errCh = Open(context.Background(), csvPath)
	rows, err = collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rowCh, errCh = Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	_, err = collectRows(t, rowCh, errCh)
	assert.Error(t, err)
}

func TestParseHeader(t *testing.T) {
	c, err := parseHeader([]string{"Company", "Homepage", "E-mail", "Tags"})
	require.Error(t, err)
	assert.Nil(t, c)

	c, err = parseHeader([]string{"Company", "URL", "Email", "Tags"})
	require.NoError(t, err)
	in := c.input([]string{"Acme", "acme.com", "hi@acme.com", "bakery; cafe|pastry"})
	assert.Equal(t, "Acme", in.Name)
	assert.Equal(t, "acme.com", in.Website)
	assert.Equal(t, "hi@acme.com", in.Email)
	assert.Equal(t, []string{"bakery", "cafe", "pastry"}, in.Keywords)

	_, err = parseHeader([]string{"platform", "handle"})
	assert.NoError(t, err)
}

func TestImport(t *testing.T) {
	st := newStore(t)
	intake := &discovery.Intake{Store: st, Machine: stage.NewMachine(st)}

	input := strings.Join([]string{
		"website,platform,username,name,email",
		"https://www.one-bakery.com,,,One,info@one-bakery.com",
		",instagram,@TwoBakes,Two,",
		"one-bakery.com,,,One again,",
		",,,Nobody,",
		"three-bakery.com,,,Three,not-an-email",
		",,,,",
		"four-bakery.com,,,Four,",
	}, "\n")

	rows, errs := StreamCSV(context.Background(), strings.NewReader(input))
	res, err := Import(context.Background(), intake, rows, errs)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 2, res.Invalid)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 5, res.Errors[0].Row)
	assert.Equal(t, 6, res.Errors[1].Row)

	p, err := st.GetProspectByKey(context.Background(), "one-bakery.com")
	require.NoError(t, err)
	assert.True(t, p.IsManual)
	assert.Equal(t, "info@one-bakery.com", p.ContactEmail)

	_, err = st.GetProspectByKey(context.Background(), "instagram:twobakes")
	assert.NoError(t, err)
}

func TestImport_BadHeaderAndEmpty(t *testing.T) {
	st := newStore(t)
	intake := &discovery.Intake{Store: st, Machine: stage.NewMachine(st)}

	rows, errs := StreamCSV(context.Background(), strings.NewReader("name,email\nA,a@b.com\n"))
	_, err := Import(context.Background(), intake, rows, errs)
	assert.Error(t, err)

	rows, errs = StreamCSV(context.Background(), strings.NewReader(""))
	_, err = Import(context.Background(), intake, rows, errs)
	assert.Error(t, err)
}

type failingAdder struct{}

func (failingAdder) Add(context.Context, discovery.ManualInput) (*model.Prospect, error) {
	return nil, errors.New("disk full")
}

func TestImport_StoreErrorStops(t *testing.T) {
	input := "website\na.com\nb.com\n"
	rows, errs := StreamCSV(context.Background(), strings.NewReader(input))
	res, err := Import(context.Background(), failingAdder{}, rows, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Zero(t, res.Added)
}

func seedScored(t *testing.T, st *store.SQLiteStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		p := model.NewProspect(model.SourceWebsite, "")
		p.Domain = string(rune('a'+i%26)) + strings.Repeat("x", i/26) + ".example.com"
		p.NaturalKey = p.Domain
		p.Website = "https://" + p.Domain
		ok, err := st.InsertProspect(ctx, &p)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = st.UpdateScore(ctx, p.ID, p.Version, float64(i), time.Now())
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestCollect_PagesAndCaps(t *testing.T) {
	st := newStore(t)
	seedScored(t, st, pageSize+20)

	all, err := Collect(context.Background(), st, store.ProspectFilter{})
	require.NoError(t, err)
	assert.Len(t, all, pageSize+20)
	require.NotNil(t, all[0].Score)
	assert.InDelta(t, float64(pageSize+19), *all[0].Score, 1e-9)

	top, err := Collect(context.Background(), st, store.ProspectFilter{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, top, 5)
}

func exportFixture() []model.Prospect {
	score := 81.5
	sent := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	web := model.NewProspect(model.SourceWebsite, "bakery.example.com")
	web.Domain = "bakery.example.com"
	web.Name = "Bakery"
	web.Website = "https://bakery.example.com"
	web.ContactEmail = "hi@bakery.example.com"
	web.Score = &score
	web.SentAt = &sent
	web.FollowUps = 2
	web.Keywords = []string{"bread", "cake"}
	web.Stage = model.StageSent

	social := model.NewProspect(model.SourceSocial, "tiktok:bakes")
	social.Platform = "tiktok"
	social.Username = "bakes"
	return []model.Prospect{web, social}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, exportFixture()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "Bakery", rows[1][0])
	assert.Equal(t, "website", rows[1][2])
	assert.Equal(t, "81.50", rows[1][7])
	assert.Equal(t, "bread; cake", rows[1][10])
	assert.Equal(t, "2026-02-03T04:05:06Z", rows[1][12])
	assert.Equal(t, "@bakes", rows[2][0])
	assert.Equal(t, "tiktok", rows[2][2])
	assert.Equal(t, "", rows[2][7])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteXLSX(f, exportFixture()))
	require.NoError(t, f.Close())

	rows, err := ReadXLSX(path, "Prospects")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "Bakery", rows[1][0])
	assert.Equal(t, "bakery.example.com", rows[1][1])
	assert.Equal(t, "tiktok:bakes", rows[2][1])
}
