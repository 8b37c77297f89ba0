package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/thriving-index/internal/region"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegionDefsCSV(t *testing.T) {
	path := writeTempCSV(t, `county_fips,region,region_name
37183,1,Research Triangle
37063,1,Research Triangle
45019,1,Lowcountry
`)
	defs, err := LoadRegionDefs(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Len(t, defs["37"], 2)
	assert.Equal(t, region.Def{CountyFIPS: "37183", Ordinal: 1, RegionName: "Research Triangle"}, defs["37"][0])
	require.Len(t, defs["45"], 1)
}

func TestLoadRegionDefsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.xlsx")
	wb := xlsx.NewFile()
	sheet, err := wb.AddSheet("regions")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"county_fips", "region", "region_name"},
		{"37183", "1", "Research Triangle"},
		{"1001", "2", "River Region"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	require.NoError(t, wb.Save(path))

	defs, err := LoadRegionDefs(path)
	require.NoError(t, err)
	require.Len(t, defs["37"], 1)
	require.Len(t, defs["01"], 1)
	assert.Equal(t, "01001", defs["01"][0].CountyFIPS, "xlsx fips padded")
	assert.Equal(t, 2, defs["01"][0].Ordinal)
}

func TestLoadRegionDefsMissingColumns(t *testing.T) {
	path := writeTempCSV(t, "county_fips,name\n37183,Triangle\n")
	_, err := LoadRegionDefs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region_name")
}

func TestLoadRegionDefsBadFIPS(t *testing.T) {
	path := writeTempCSV(t, "county_fips,region,region_name\nabcde,1,Triangle\n")
	_, err := LoadRegionDefs(path)
	assert.Error(t, err)
}

func TestLoadRegionDefsBadOrdinal(t *testing.T) {
	path := writeTempCSV(t, "county_fips,region,region_name\n37183,west,Triangle\n")
	_, err := LoadRegionDefs(path)
	assert.Error(t, err)
}

func TestLoadRegionDefsMissingFile(t *testing.T) {
	_, err := LoadRegionDefs(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
