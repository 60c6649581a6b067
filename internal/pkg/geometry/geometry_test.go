package geometry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) MultiPolygon {
	return MultiPolygon{Polygon{Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func mustParse(t *testing.T, typ, coords string) MultiPolygon {
	t.Helper()
	mp, err := Parse(typ, json.RawMessage(coords))
	require.NoError(t, err)
	return mp
}

func TestParse_PolygonAndMultiPolygon(t *testing.T) {
	mp := mustParse(t, "Polygon", `[[[0,0],[1,0],[1,1],[0,1],[0,0]]]`)
	require.Len(t, mp, 1)
	require.NoError(t, mp.Validate())
	assert.Equal(t, BBox{0, 0, 1, 1}, mp.BBox())

	mp = mustParse(t, "MultiPolygon", `[[[[0,0],[1,0],[1,1],[0,1],[0,0]]],[[[2,2],[3,2],[3,3],[2,3],[2,2]]]]`)
	require.Len(t, mp, 2)
	require.NoError(t, mp.Validate())
	assert.Equal(t, BBox{0, 0, 3, 3}, mp.BBox())
}

func TestParse_RejectsOtherTypes(t *testing.T) {
	_, err := Parse("Point", json.RawMessage(`[0,0]`))
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, err = Parse("Polygon", json.RawMessage(`[[[0]]]`))
	assert.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]string{
		"not closed":     `[[[0,0],[1,0],[1,1],[0,1]]]`,
		"too short":      `[[[0,0],[1,0],[0,0]]]`,
		"bowtie":         `[[[0,0],[1,1],[1,0],[0,1],[0,0]]]`,
		"out of range":   `[[[0,0],[181,0],[181,1],[0,1],[0,0]]]`,
		"zero area":      `[[[0,0],[1,0],[2,0],[0,0]]]`,
		"repeated point": `[[[0,0],[1,0],[1,0],[1,1],[0,1],[0,0]]]`,
		"hole outside":   `[[[0,0],[1,0],[1,1],[0,1],[0,0]],[[5,5],[6,5],[6,6],[5,6],[5,5]]]`,
	}
	for name, coords := range cases {
		mp, err := Parse("Polygon", json.RawMessage(coords))
		require.NoError(t, err, name)
		assert.Error(t, mp.Validate(), name)
	}
}

func TestValidate_MultiPolygonPartsMustNotOverlap(t *testing.T) {
	mp := mustParse(t, "MultiPolygon", `[[[[0,0],[2,0],[2,2],[0,2],[0,0]]],[[[1,1],[3,1],[3,3],[1,3],[1,1]]]]`)
	assert.Error(t, mp.Validate())
}

func TestValidate_HoleInside(t *testing.T) {
	mp := mustParse(t, "Polygon", `[[[0,0],[4,0],[4,4],[0,4],[0,0]],[[1,1],[2,1],[2,2],[1,2],[1,1]]]`)
	assert.NoError(t, mp.Validate())
}

func TestOverlaps(t *testing.T) {
	base := square(0, 0, 1, 1)
	cases := []struct {
		name  string
		other MultiPolygon
		want  bool
	}{
		{"identical", square(0, 0, 1, 1), true},
		{"partial", square(0.5, 0.5, 1.5, 1.5), true},
		{"contained", square(0.25, 0.25, 0.75, 0.75), true},
		{"containing", square(-1, -1, 2, 2), true},
		{"shared edge", square(1, 0, 2, 1), false},
		{"shared corner", square(1, 1, 2, 2), false},
		{"disjoint", square(5, 5, 6, 6), false},
		{"half shared edge", square(1, 0.5, 2, 1.5), false},
		{"flush inside sharing edge", square(0, 0, 0.5, 1), true},
		{"cross without vertices inside", square(0.25, -1, 0.75, 2), true},
		{"diamond through corners", MultiPolygon{Polygon{Ring{{0.5, -0.5}, {1.5, 0.5}, {0.5, 1.5}, {-0.5, 0.5}, {0.5, -0.5}}}}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Overlaps(base, tc.other), tc.name)
		assert.Equal(t, tc.want, Overlaps(tc.other, base), tc.name+" (reversed)")
	}
}

func TestOverlaps_SmallParcels(t *testing.T) {
	origins := [][2]float64{{0, 0}, {13.4, 52.5}}
	for _, o := range origins {
		for _, side := range []float64{1, 1e-3, 1e-5, 1e-6, 1e-7} {
			x, y := o[0], o[1]
			base := square(x, y, x+side, y+side)
			name := fmt.Sprintf("side %g at %v", side, o)
			assert.True(t, Overlaps(base, square(x, y, x+side, y+side)), name+" identical")
			assert.True(t, Overlaps(base, square(x+side/4, y+side/4, x+side*3/4, y+side*3/4)), name+" nested")
			assert.False(t, Overlaps(base, square(x+side, y, x+2*side, y+side)), name+" shared edge")
			assert.NoError(t, base.Validate(), name)
		}
	}
}

func TestOverlaps_HoleExcludesArea(t *testing.T) {
	donut := mustParse(t, "Polygon", `[[[0,0],[4,0],[4,4],[0,4],[0,0]],[[1,1],[3,1],[3,3],[1,3],[1,1]]]`)
	assert.False(t, Overlaps(donut, square(1.5, 1.5, 2.5, 2.5)))
	assert.False(t, Overlaps(donut, square(1, 1, 3, 3)))
	assert.True(t, Overlaps(donut, square(0.5, 0.5, 1.5, 1.5)))
}

func TestBBox_IntersectsIgnoresTouching(t *testing.T) {
	a := BBox{0, 0, 1, 1}
	assert.False(t, a.Intersects(BBox{1, 0, 2, 1}))
	assert.True(t, a.Intersects(BBox{0.5, 0.5, 2, 2}))
	assert.Equal(t, BBox{0.5, 0.5, 1, 1}, a.Intersection(BBox{0.5, 0.5, 2, 2}))
}
