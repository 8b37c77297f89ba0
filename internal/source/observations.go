// Package source materializes normalized tables from flat files. Source
// column names are resolved here, at the acquisition boundary; the engines
// never branch on provider-specific schemas.
package source

import (
	"io"
	"os"
	"strconv"
	"strings"

	"encoding/csv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/model"
)

// ObservationSpec binds a source CSV's columns to the normalized schema.
// Columns maps source header names to normalized column names; cells that
// are empty or non-numeric are treated as missing, never as zero.
type ObservationSpec struct {
	MeasureID string
	FIPSCol   string
	Columns   map[string]string
}

// LoadObservations reads one county-observation table from a CSV file.
func LoadObservations(path string, spec ObservationSpec) (model.ObservationTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ObservationTable{}, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close()

	table, err := ReadObservations(f, spec)
	if err != nil {
		return model.ObservationTable{}, eris.Wrapf(err, "source: %s", path)
	}
	return table, nil
}

// ReadObservations parses a county-observation CSV from a reader.
func ReadObservations(r io.Reader, spec ObservationSpec) (model.ObservationTable, error) {
	if spec.FIPSCol == "" {
		return model.ObservationTable{}, eris.New("source: observation spec missing fips column")
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return model.ObservationTable{}, eris.Wrap(err, "source: read header")
	}
	idx := headerIndex(header)

	fipsIdx, ok := idx[strings.ToLower(spec.FIPSCol)]
	if !ok {
		return model.ObservationTable{}, eris.Errorf("source: fips column %q not in header", spec.FIPSCol)
	}
	colIdx := make(map[string]int, len(spec.Columns)) // normalized name -> field index
	for src, norm := range spec.Columns {
		i, ok := idx[strings.ToLower(src)]
		if !ok {
			return model.ObservationTable{}, eris.Errorf("source: column %q not in header", src)
		}
		colIdx[norm] = i
	}

	table := model.ObservationTable{MeasureID: spec.MeasureID}
	var skipped int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.ObservationTable{}, eris.Wrap(err, "source: read row")
		}

		fips := normalizeFIPS(record[fipsIdx])
		if model.ValidateFIPS(fips) != nil {
			skipped++
			continue
		}

		obs := model.CountyObservation{FIPS: fips, Cols: make(map[string]float64, len(colIdx))}
		for norm, i := range colIdx {
			if i >= len(record) {
				continue
			}
			cell := strings.TrimSpace(record[i])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
			if err != nil {
				continue
			}
			obs.Cols[norm] = v
		}
		table.Rows = append(table.Rows, obs)
	}

	if skipped > 0 {
		zap.L().Named("source").Debug("skipped rows with malformed fips",
			zap.String("measure", spec.MeasureID), zap.Int("skipped", skipped))
	}
	return table, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// normalizeFIPS pads 4-digit codes that lost a leading zero in a
// spreadsheet round trip.
func normalizeFIPS(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		s = "0" + s
	}
	return s
}
