package source

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/region"
)

// LoadRegionDefs reads a region-definition table (CSV or XLSX, chosen by
// extension) and groups its rows by state FIPS. Expected columns:
// county_fips, region, region_name. A single file may carry multiple
// states' tables concatenated.
func LoadRegionDefs(path string) (map[string][]region.Def, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSXRows(path)
	default:
		rows, err = readCSVRows(path)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("source: %s has no rows", path)
	}

	idx := headerIndex(rows[0])
	fipsIdx, ok1 := idx["county_fips"]
	ordIdx, ok2 := idx["region"]
	nameIdx, ok3 := idx["region_name"]
	if !ok1 || !ok2 || !ok3 {
		return nil, eris.Errorf("source: %s missing county_fips/region/region_name columns", path)
	}

	defs := make(map[string][]region.Def)
	for n, record := range rows[1:] {
		if len(record) <= max(fipsIdx, ordIdx, nameIdx) {
			continue
		}
		fips := normalizeFIPS(record[fipsIdx])
		if err := model.ValidateFIPS(fips); err != nil {
			return nil, eris.Wrapf(err, "source: %s row %d", path, n+2)
		}
		ordinal, err := strconv.Atoi(strings.TrimSpace(record[ordIdx]))
		if err != nil {
			return nil, eris.Wrapf(err, "source: %s row %d: region ordinal", path, n+2)
		}
		state := model.StateOf(fips)
		defs[state] = append(defs[state], region.Def{
			CountyFIPS: fips,
			Ordinal:    ordinal,
			RegionName: strings.TrimSpace(record[nameIdx]),
		})
	}
	return defs, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s", path)
		}
		rows = append(rows, record)
	}
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("source: %s has no sheets", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
