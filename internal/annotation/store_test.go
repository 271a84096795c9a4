package annotation

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/woozymasta/geoannotator/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(t *testing.T, lon, lat float64) geo.DrawnFeature {
	t.Helper()
	return feature(t, fmt.Sprintf(`{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[%g,%g]}}`, lon, lat))
}

func feature(t *testing.T, raw string) geo.DrawnFeature {
	t.Helper()
	var f geo.DrawnFeature
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return f
}

func labels(items []Annotation) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.Label
	}
	return out
}

func TestAddDeduplicates(t *testing.T) {
	s := NewStore()

	first, added, err := s.Add(point(t, -122.41, 37.77))
	require.NoError(t, err)
	assert.True(t, added)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, geo.KindPoint, first.Kind)

	again, added, err := s.Add(point(t, -122.41, 37.77))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, s.Len())

	_, added, err = s.Add(point(t, -122.40, 37.77))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, s.Len())
}

func TestAddRejectsUnsupportedGeometry(t *testing.T) {
	s := NewStore()

	_, _, err := s.Add(feature(t, `{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`))
	assert.ErrorIs(t, err, geo.ErrUnsupportedGeometry)
	assert.Equal(t, 0, s.Len())
}

func TestAddAssignsUniqueIDs(t *testing.T) {
	s := NewStore()
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		a, _, err := s.Add(point(t, float64(i), 1))
		require.NoError(t, err)
		assert.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
	}
}

func TestSetLabelAndNotes(t *testing.T) {
	s := NewStore()
	_, _, err := s.Add(point(t, 1, 1))
	require.NoError(t, err)

	require.NoError(t, s.SetLabel(0, "Lake"))
	require.NoError(t, s.SetNotes(0, "north shore"))

	a := s.All()[0]
	assert.Equal(t, "Lake", a.Label)
	assert.Equal(t, "north shore", a.Notes)

	assert.ErrorIs(t, s.SetLabel(1, "x"), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.SetNotes(-1, "x"), ErrIndexOutOfRange)
}

func TestDeletePreservesOrder(t *testing.T) {
	s := NewStore()
	for i := 0; i < 4; i++ {
		_, _, err := s.Add(point(t, float64(i), 0))
		require.NoError(t, err)
		require.NoError(t, s.SetLabel(i, fmt.Sprintf("a%d", i)))
	}

	require.NoError(t, s.Delete(1))
	assert.Equal(t, []string{"a0", "a2", "a3"}, labels(s.All()))

	assert.ErrorIs(t, s.Delete(3), ErrIndexOutOfRange)
	assert.Equal(t, 3, s.Len())
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Clear()
	assert.Equal(t, 0, s.Len())

	for i := 0; i < 3; i++ {
		_, _, err := s.Add(point(t, float64(i), 0))
		require.NoError(t, err)
	}
	s.Clear()
	assert.Empty(t, s.All())

	// a cleared feature can be drawn again
	_, added, err := s.Add(point(t, 0, 0))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestAllReturnsCopy(t *testing.T) {
	s := NewStore()
	_, _, err := s.Add(point(t, 1, 1))
	require.NoError(t, err)

	items := s.All()
	items[0].Label = "changed"

	assert.Equal(t, "", s.All()[0].Label)
}

func TestUpdateByIDSurvivesEarlierDelete(t *testing.T) {
	s := NewStore()
	first, _, err := s.Add(point(t, 1, 1))
	require.NoError(t, err)
	second, _, err := s.Add(point(t, 2, 2))
	require.NoError(t, err)
	third, _, err := s.Add(point(t, 3, 3))
	require.NoError(t, err)

	require.NoError(t, s.Remove(first.ID))

	label := "kept"
	notes := "edited after delete"
	updated, err := s.Update(third.ID, Patch{Label: &label, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, third.ID, updated.ID)

	got, err := s.Get(third.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Label)
	assert.Equal(t, "edited after delete", got.Notes)

	other, err := s.Get(second.ID)
	require.NoError(t, err)
	assert.Empty(t, other.Label)

	idx, err := s.IndexOf(third.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestPartialPatch(t *testing.T) {
	s := NewStore()
	a, _, err := s.Add(point(t, 1, 1))
	require.NoError(t, err)
	require.NoError(t, s.SetNotes(0, "keep me"))

	label := "only label"
	got, err := s.Update(a.ID, Patch{Label: &label})
	require.NoError(t, err)
	assert.Equal(t, "only label", got.Label)
	assert.Equal(t, "keep me", got.Notes)
}

func TestUnknownID(t *testing.T) {
	s := NewStore()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove("missing"), ErrNotFound)

	_, err = s.Update("missing", Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}
