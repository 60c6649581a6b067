// Package geometry parses and validates WGS84 project boundaries and decides whether
// two boundaries share interior area.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Point is a [lon, lat] position.
type Point [2]float64

// Ring is a closed linear ring: first and last positions are equal.
type Ring []Point

// Polygon is an exterior ring followed by zero or more holes.
type Polygon []Ring

// MultiPolygon is the normalised form of every project boundary.
type MultiPolygon []Polygon

// BBox is an axis-aligned bounding box in degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

var (
	ErrUnsupportedType = errors.New("geometry must be a Polygon or MultiPolygon")
	ErrEmpty           = errors.New("geometry has no polygons")
)

// Parse decodes GeoJSON coordinates of a Polygon or MultiPolygon.
func Parse(geomType string, coordinates json.RawMessage) (MultiPolygon, error) {
	switch geomType {
	case "Polygon":
		var raw [][][]float64
		if err := json.Unmarshal(coordinates, &raw); err != nil {
			return nil, fmt.Errorf("invalid Polygon coordinates: %w", err)
		}
		p, err := toPolygon(raw)
		if err != nil {
			return nil, err
		}
		return MultiPolygon{p}, nil
	case "MultiPolygon":
		var raw [][][][]float64
		if err := json.Unmarshal(coordinates, &raw); err != nil {
			return nil, fmt.Errorf("invalid MultiPolygon coordinates: %w", err)
		}
		if len(raw) == 0 {
			return nil, ErrEmpty
		}
		mp := make(MultiPolygon, 0, len(raw))
		for i, r := range raw {
			p, err := toPolygon(r)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", i, err)
			}
			mp = append(mp, p)
		}
		return mp, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func toPolygon(raw [][][]float64) (Polygon, error) {
	if len(raw) == 0 {
		return nil, errors.New("polygon has no rings")
	}
	p := make(Polygon, 0, len(raw))
	for i, r := range raw {
		ring := make(Ring, 0, len(r))
		for j, pos := range r {
			if len(pos) < 2 {
				return nil, fmt.Errorf("ring %d position %d has fewer than 2 coordinates", i, j)
			}
			ring = append(ring, Point{pos[0], pos[1]})
		}
		p = append(p, ring)
	}
	return p, nil
}

// Validate checks coordinate ranges, ring closure, non-degeneracy, that no ring
// intersects itself, that holes lie inside their exterior ring, and that the parts of
// a MultiPolygon do not overlap.
func (mp MultiPolygon) Validate() error {
	if len(mp) == 0 {
		return ErrEmpty
	}
	for i, p := range mp {
		if err := p.validate(); err != nil {
			return fmt.Errorf("polygon %d: %w", i, err)
		}
	}
	for i := 0; i < len(mp); i++ {
		for j := i + 1; j < len(mp); j++ {
			if polygonsOverlap(mp[i], mp[j]) {
				return fmt.Errorf("polygons %d and %d overlap", i, j)
			}
		}
	}
	return nil
}

func (p Polygon) validate() error {
	for i, r := range p {
		if err := r.validate(); err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
	}
	for i, hole := range p[1:] {
		if locate(Polygon{p[0]}, hole[0]) != inside {
			return fmt.Errorf("hole %d is not inside the exterior ring", i+1)
		}
	}
	return nil
}

func (r Ring) validate() error {
	if len(r) < 4 {
		return errors.New("ring must have at least 4 positions")
	}
	for _, pt := range r {
		if math.IsNaN(pt[0]) || math.IsNaN(pt[1]) || math.IsInf(pt[0], 0) || math.IsInf(pt[1], 0) {
			return errors.New("ring has non-finite coordinates")
		}
		if pt[0] < -180 || pt[0] > 180 || pt[1] < -90 || pt[1] > 90 {
			return fmt.Errorf("position %v is outside WGS84 bounds", pt)
		}
	}
	if r[0] != r[len(r)-1] {
		return errors.New("ring is not closed")
	}
	if math.Abs(r.signedArea()) == 0 {
		return errors.New("ring has zero area")
	}
	n := len(r) - 1
	for i := 0; i < n; i++ {
		if r[i] == r[i+1] {
			return fmt.Errorf("ring has a repeated position at %d", i)
		}
	}
	for i := 0; i < n; i++ {
		a1, a2 := r[i], r[i+1]
		for j := i + 1; j < n; j++ {
			b1, b2 := r[j], r[j+1]
			adjacent := j == i+1 || (i == 0 && j == n-1)
			if adjacent {
				// consecutive edges may only share their common vertex
				if orient(a1, a2, b2) == 0 && orient(a1, a2, b1) == 0 && collinearOverlap(a1, a2, b1, b2) {
					return fmt.Errorf("ring folds back on itself at edge %d", j)
				}
				continue
			}
			if segmentsIntersect(a1, a2, b1, b2) {
				return fmt.Errorf("ring self-intersects between edges %d and %d", i, j)
			}
		}
	}
	return nil
}

func (r Ring) signedArea() float64 {
	var s float64
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

// BBox returns the bounding box of all exterior rings.
func (mp MultiPolygon) BBox() BBox {
	b := BBox{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
	for _, p := range mp {
		if len(p) == 0 {
			continue
		}
		for _, pt := range p[0] {
			b.MinLon = math.Min(b.MinLon, pt[0])
			b.MinLat = math.Min(b.MinLat, pt[1])
			b.MaxLon = math.Max(b.MaxLon, pt[0])
			b.MaxLat = math.Max(b.MaxLat, pt[1])
		}
	}
	return b
}

// Slice returns the GeoJSON bbox array.
func (b BBox) Slice() []float64 {
	return []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// Intersects reports whether the boxes share interior area; touching edges do not count.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLon < o.MaxLon && o.MinLon < b.MaxLon && b.MinLat < o.MaxLat && o.MinLat < b.MaxLat
}

// Intersection returns the overlap of two boxes. Callers check Intersects first.
func (b BBox) Intersection(o BBox) BBox {
	return BBox{
		MinLon: math.Max(b.MinLon, o.MinLon),
		MinLat: math.Max(b.MinLat, o.MinLat),
		MaxLon: math.Min(b.MaxLon, o.MaxLon),
		MaxLat: math.Min(b.MaxLat, o.MaxLat),
	}
}
