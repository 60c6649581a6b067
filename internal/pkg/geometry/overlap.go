package geometry

import (
	"math"
	"sort"
)

// epsilon bounds coordinate and parameter comparisons. Orientation tests are relative:
// a point is collinear when the sine of its angle to the edge is below sinTolerance, so
// parcels a few centimetres across classify like large ones.
const (
	epsilon      = 1e-12
	sinTolerance = 1e-10
)

type location int

const (
	outside location = iota
	boundary
	inside
)

// Overlaps reports whether a and b share a region of positive area. Boundaries that
// only touch along edges or at points are not an overlap.
func Overlaps(a, b MultiPolygon) bool {
	if !a.BBox().Intersects(b.BBox()) {
		return false
	}
	for _, pa := range a {
		for _, pb := range b {
			if polygonsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

// polygonsOverlap looks for a witness point strictly inside both polygons. Every
// positive answer is backed by such a point.
func polygonsOverlap(a, b Polygon) bool {
	if !(MultiPolygon{a}).BBox().Intersects((MultiPolygon{b}).BBox()) {
		return false
	}
	ea, eb := edges(a), edges(b)
	for _, x := range ea {
		for _, y := range eb {
			if properCross(x[0], x[1], y[0], y[1]) {
				return true
			}
		}
	}
	for _, r := range a {
		for _, v := range r {
			if locate(b, v) == inside {
				return true
			}
		}
	}
	for _, r := range b {
		for _, v := range r {
			if locate(a, v) == inside {
				return true
			}
		}
	}
	// Without proper crossings the shared region, if any, is bounded by pieces of edges
	// split at the other polygon's vertices; probe just off each piece.
	return probeSubsegments(ea, b, a) || probeSubsegments(eb, a, b)
}

func probeSubsegments(own [][2]Point, other, self Polygon) bool {
	var verts []Point
	for _, r := range other {
		verts = append(verts, r...)
	}
	for _, e := range own {
		a1, a2 := e[0], e[1]
		ts := []float64{0, 1}
		for _, v := range verts {
			if onSegment(v, a1, a2) && v != a1 && v != a2 {
				ts = append(ts, param(v, a1, a2))
			}
		}
		sort.Float64s(ts)
		dx, dy := a2[0]-a1[0], a2[1]-a1[1]
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		nx, ny := -dy/length, dx/length
		for i := 0; i+1 < len(ts); i++ {
			t0, t1 := ts[i], ts[i+1]
			if t1-t0 <= epsilon {
				continue
			}
			mid := (t0 + t1) / 2
			m := Point{a1[0] + dx*mid, a1[1] + dy*mid}
			eps := length * (t1 - t0) * 1e-6
			for _, s := range []float64{1, -1} {
				p := Point{m[0] + s*nx*eps, m[1] + s*ny*eps}
				if locate(self, p) == inside && locate(other, p) == inside {
					return true
				}
			}
		}
	}
	return false
}

func edges(p Polygon) [][2]Point {
	var out [][2]Point
	for _, r := range p {
		for i := 0; i+1 < len(r); i++ {
			out = append(out, [2]Point{r[i], r[i+1]})
		}
	}
	return out
}

// locate classifies pt against a polygon with holes using even-odd ray casting.
func locate(p Polygon, pt Point) location {
	crossings := 0
	for _, r := range p {
		for i := 0; i+1 < len(r); i++ {
			a, b := r[i], r[i+1]
			if onSegment(pt, a, b) {
				return boundary
			}
			if (a[1] > pt[1]) != (b[1] > pt[1]) {
				x := a[0] + (pt[1]-a[1])*(b[0]-a[0])/(b[1]-a[1])
				if pt[0] < x {
					crossings++
				}
			}
		}
	}
	if crossings%2 == 1 {
		return inside
	}
	return outside
}

func orient(a, b, c Point) int {
	ux, uy := b[0]-a[0], b[1]-a[1]
	vx, vy := c[0]-a[0], c[1]-a[1]
	v := ux*vy - uy*vx
	tol := sinTolerance * math.Hypot(ux, uy) * math.Hypot(vx, vy)
	switch {
	case v > tol:
		return 1
	case v < -tol:
		return -1
	default:
		return 0
	}
}

func onSegment(p, a, b Point) bool {
	if orient(a, b, p) != 0 {
		return false
	}
	return math.Min(a[0], b[0])-epsilon <= p[0] && p[0] <= math.Max(a[0], b[0])+epsilon &&
		math.Min(a[1], b[1])-epsilon <= p[1] && p[1] <= math.Max(a[1], b[1])+epsilon
}

func properCross(a1, a2, b1, b2 Point) bool {
	o1, o2 := orient(a1, a2, b1), orient(a1, a2, b2)
	o3, o4 := orient(b1, b2, a1), orient(b1, b2, a2)
	return o1*o2 < 0 && o3*o4 < 0
}

func segmentsIntersect(a1, a2, b1, b2 Point) bool {
	if properCross(a1, a2, b1, b2) {
		return true
	}
	return onSegment(b1, a1, a2) || onSegment(b2, a1, a2) || onSegment(a1, b1, b2) || onSegment(a2, b1, b2)
}

// collinearOverlap reports whether two collinear segments share more than a point.
func collinearOverlap(a1, a2, b1, b2 Point) bool {
	axis := 0
	if math.Abs(a2[0]-a1[0]) < math.Abs(a2[1]-a1[1]) {
		axis = 1
	}
	lo := math.Max(math.Min(a1[axis], a2[axis]), math.Min(b1[axis], b2[axis]))
	hi := math.Min(math.Max(a1[axis], a2[axis]), math.Max(b1[axis], b2[axis]))
	return hi-lo > epsilon
}

func param(p, a, b Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if math.Abs(dx) >= math.Abs(dy) {
		return (p[0] - a[0]) / dx
	}
	return (p[1] - a[1]) / dy
}
