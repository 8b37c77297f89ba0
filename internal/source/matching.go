package source

import (
	"io"
	"os"
	"strconv"
	"strings"

	"encoding/csv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thriving-index/internal/match"
	"github.com/sells-group/thriving-index/internal/model"
)

// LoadMatchingVariables reads the candidate-pool matching-variable table.
// The header must carry region_key plus every variable in match.Variables;
// a candidate row missing any variable is an error, because a partial
// vector cannot participate in distance computation.
func LoadMatchingVariables(path string) ([]model.MatchingVector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close()

	vectors, err := ReadMatchingVariables(f)
	if err != nil {
		return nil, eris.Wrapf(err, "source: %s", path)
	}
	return vectors, nil
}

// ReadMatchingVariables parses the candidate-pool table from a reader.
func ReadMatchingVariables(r io.Reader) ([]model.MatchingVector, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "source: read header")
	}
	idx := headerIndex(header)

	keyIdx, ok := idx["region_key"]
	if !ok {
		return nil, eris.New("source: matching table missing region_key column")
	}
	varIdx := make([]int, len(match.Variables))
	for i, name := range match.Variables {
		j, ok := idx[name]
		if !ok {
			return nil, eris.Errorf("source: matching table missing variable %q", name)
		}
		varIdx[i] = j
	}

	var vectors []model.MatchingVector
	for n := 2; ; n++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "source: read row")
		}

		vec := model.MatchingVector{
			RegionKey: strings.TrimSpace(record[keyIdx]),
			Values:    make([]float64, len(match.Variables)),
		}
		for i, j := range varIdx {
			if j >= len(record) {
				return nil, eris.Errorf("source: row %d: missing %s", n, match.Variables[i])
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "source: row %d: parse %s", n, match.Variables[i])
			}
			vec.Values[i] = v
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}
