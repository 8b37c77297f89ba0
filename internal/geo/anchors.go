// Package geo derives the urban-anchor distance matching variable from
// county centroid shapefiles when the candidate-pool table does not carry
// it directly.
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/region"
)

// Anchor is a metropolitan anchor point regions are measured against.
type Anchor struct {
	Name  string
	Coord geom.Coord // lon, lat
}

// DefaultAnchors lists the major metro anchors used when no custom list is
// configured.
var DefaultAnchors = []Anchor{
	{Name: "New York", Coord: geom.Coord{-74.0060, 40.7128}},
	{Name: "Chicago", Coord: geom.Coord{-87.6298, 41.8781}},
	{Name: "Dallas", Coord: geom.Coord{-96.7970, 32.7767}},
	{Name: "Denver", Coord: geom.Coord{-104.9903, 39.7392}},
	{Name: "Los Angeles", Coord: geom.Coord{-118.2437, 34.0522}},
	{Name: "Atlanta", Coord: geom.Coord{-84.3880, 33.7490}},
	{Name: "Seattle", Coord: geom.Coord{-122.3321, 47.6062}},
	{Name: "Minneapolis", Coord: geom.Coord{-93.2650, 44.9778}},
}

// CountyCentroid holds one county's interior point and population weight.
type CountyCentroid struct {
	FIPS       string
	Coord      geom.Coord
	Population float64
}

// LoadCentroids reads county centroids from a point shapefile carrying a
// GEOID attribute and, optionally, a POP attribute for weighting.
func LoadCentroids(shpPath string) (map[string]CountyCentroid, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	geoidIdx, popIdx := -1, -1
	for i, f := range fields {
		switch strings.ToLower(strings.TrimRight(f.String(), "\x00")) {
		case "geoid":
			geoidIdx = i
		case "pop", "population":
			popIdx = i
		}
	}
	if geoidIdx < 0 {
		return nil, eris.Errorf("geo: shapefile %s has no GEOID field", shpPath)
	}

	centroids := make(map[string]CountyCentroid)
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		point, ok := shape.(*shp.Point)
		if !ok {
			skipped++
			continue
		}

		fips := strings.TrimSpace(strings.TrimRight(reader.Attribute(geoidIdx), "\x00"))
		if model.ValidateFIPS(fips) != nil {
			skipped++
			continue
		}

		c := CountyCentroid{
			FIPS:  fips,
			Coord: geom.Coord{point.X, point.Y},
		}
		if popIdx >= 0 {
			c.Population = parseFloat(reader.Attribute(popIdx))
		}
		centroids[fips] = c
	}

	if skipped > 0 {
		zap.L().Named("geo").Debug("skipped shapefile records",
			zap.String("path", shpPath), zap.Int("skipped", skipped))
	}
	return centroids, nil
}

// AnchorDistances computes, per region, the great-circle distance in miles
// from the region's population-weighted centroid to its nearest anchor.
// Regions with no centroid coverage are absent from the result.
func AnchorDistances(dir *region.Directory, centroids map[string]CountyCentroid, anchors []Anchor) map[string]float64 {
	if len(anchors) == 0 {
		anchors = DefaultAnchors
	}

	out := make(map[string]float64)
	for _, reg := range dir.AllRegions("") {
		centroid, ok := regionCentroid(reg, centroids)
		if !ok {
			continue
		}
		best := math.Inf(1)
		for _, a := range anchors {
			if d := haversineMiles(centroid, a.Coord); d < best {
				best = d
			}
		}
		out[reg.Key] = best
	}
	return out
}

// regionCentroid is the population-weighted mean of member county
// centroids; counties without population weight equally.
func regionCentroid(reg model.Region, centroids map[string]CountyCentroid) (geom.Coord, bool) {
	var lon, lat, weight float64
	for _, fips := range reg.CountyFIPS {
		c, ok := centroids[fips]
		if !ok {
			continue
		}
		w := c.Population
		if w <= 0 {
			w = 1
		}
		lon += c.Coord.X() * w
		lat += c.Coord.Y() * w
		weight += w
	}
	if weight == 0 {
		return nil, false
	}
	return geom.Coord{lon / weight, lat / weight}, true
}

const earthRadiusMiles = 3958.8

func haversineMiles(a, b geom.Coord) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(h))
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
