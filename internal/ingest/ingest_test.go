package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wolfroute/internal/model"
	"wolfroute/internal/store"
)

func TestDetect(t *testing.T) {
	cases := map[string]struct {
		head string
		want model.DatasetFormat
	}{
		"a.csv":      {"", model.FormatCSV},
		"a.JSON":     {"", model.FormatJSON},
		"a.vrp":      {"DIMENSION : 5", model.FormatTSPLIB},
		"cvrp_1.dat": {"0 0 0", model.FormatVRP},
		"x.txt":      {"NODE_COORD_SECTION", model.FormatTSPLIB},
		"readme.md":  {"", ""},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, Detect(name, []byte(tc.head)), name)
	}
}

func TestParseCSVWithHeader(t *testing.T) {
	p, format, err := ParseFile("testdata/small.csv")
	require.NoError(t, err)
	assert.Equal(t, model.FormatCSV, format)
	want := model.VRPData{
		Depot: model.Coordinate{},
		Customers: []model.Customer{
			{ID: 1, Lat: 3, Lng: 4, Demand: 5},
			{ID: 2, Lat: -3, Lng: -4, Demand: 5},
			{ID: 7, Lat: 1, Lng: 1, Demand: 2},
		},
	}
	if diff := cmp.Diff(want, p.Data); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCSVWithoutHeaderUsesFirstRowAsDepot(t *testing.T) {
	p, _, err := ParseFile("testdata/noheader.csv")
	require.NoError(t, err)
	assert.Equal(t, model.Coordinate{Lat: 10, Lng: 10}, p.Data.Depot)
	require.Len(t, p.Data.Customers, 2)
	assert.Equal(t, 2, p.Data.Customers[0].ID)
}

func TestParseCSVRejectsBadNumbers(t *testing.T) {
	_, err := csvParser{}.Parse(strings.NewReader("x,y,demand\n1,abc,3\n"))
	assert.ErrorContains(t, err, "row 2")
}

func TestParseWrappedJSON(t *testing.T) {
	p, format, err := ParseFile("testdata/wrapped.json")
	require.NoError(t, err)
	assert.Equal(t, model.FormatJSON, format)
	assert.Equal(t, 50, p.Capacity)
	assert.Equal(t, model.Coordinate{Lat: 1.5, Lng: 2.5}, p.Data.Depot)
	want := []model.Customer{{ID: 10, Lat: 3, Lng: 4, Demand: 7}, {ID: 11, Lat: 5, Lng: 6, Demand: 2}}
	assert.Empty(t, cmp.Diff(want, p.Data.Customers))
}

func TestParseTSPLIB(t *testing.T) {
	p, format, err := ParseFile("testdata/A-n5-k2.vrp")
	require.NoError(t, err)
	assert.Equal(t, model.FormatTSPLIB, format)
	assert.Equal(t, 20, p.Capacity)
	assert.Equal(t, model.Coordinate{Lat: 50, Lng: 50}, p.Data.Depot)
	ids := []int{}
	for _, c := range p.Data.Customers {
		ids = append(ids, c.ID)
	}
	// node 4 has zero demand and is not a depot
	assert.Equal(t, []int{2, 3, 5}, ids)
	assert.Equal(t, 25, p.Data.TotalDemand())
}

func TestParseTSPLIBDimensionMismatch(t *testing.T) {
	src := "DIMENSION : 3\nNODE_COORD_SECTION\n1 0 0\n2 1 1\nEOF\n"
	_, err := tsplibParser{}.Parse(strings.NewReader(src))
	assert.ErrorContains(t, err, "DIMENSION")
}

func TestParsePlain(t *testing.T) {
	p, format, err := ParseFile("testdata/plain.txt")
	require.NoError(t, err)
	assert.Equal(t, model.FormatVRP, format)
	assert.Len(t, p.Data.Customers, 2)
	assert.Equal(t, 7, p.Data.TotalDemand())
}

func TestFingerprintStable(t *testing.T) {
	d := model.VRPData{Customers: []model.Customer{{ID: 1, Lat: 1, Lng: 2, Demand: 3}}}
	a := Fingerprint(d, 10)
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint(d, 10))
	assert.NotEqual(t, a, Fingerprint(d, 11))
}

func TestScanReportsValidAndInvalid(t *testing.T) {
	dir := t.TempDir()
	copyFile(t, "testdata/small.csv", filepath.Join(dir, "small.csv"))
	copyFile(t, "testdata/notes.md", filepath.Join(dir, "notes.md"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))

	res := Scan([]string{dir, filepath.Join(dir, "missing")})
	assert.Equal(t, []string{dir}, res.ScannedPaths)
	assert.Equal(t, 2, res.TotalFound)
	assert.Equal(t, 1, res.TotalValid)
}

func TestIngestSkipsDuplicatesUnlessOverwrite(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	in := &Ingester{Store: mem}

	first := in.Ingest(ctx, []string{"testdata/A-n5-k2.vrp", "testdata/does-not-exist.csv"}, false)
	require.Equal(t, 1, first.TotalIngested)
	require.Equal(t, 1, first.TotalFailed)
	ds := first.Ingested[0]
	assert.Equal(t, "A-n5-k2", ds.Name)
	assert.Equal(t, 20, ds.Capacity)
	assert.Equal(t, 3, ds.NumCustomers)

	again := in.Ingest(ctx, []string{"testdata/A-n5-k2.vrp"}, false)
	assert.Equal(t, 0, again.TotalIngested)
	assert.Contains(t, again.Failed[0].Error, ds.ID)

	over := in.Ingest(ctx, []string{"testdata/A-n5-k2.vrp"}, true)
	require.Equal(t, 1, over.TotalIngested)
	assert.Equal(t, ds.ID, over.Ingested[0].ID)

	all, _, err := mem.ListDatasets(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	b, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, b, 0o600))
}
