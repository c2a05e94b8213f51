package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldText(t *testing.T) {
	assert.Equal(t, "zurich hb", FoldText("Zürich HB"))
	assert.Equal(t, "zurich hb", FoldText("  Zürich,  HB "))
	assert.Equal(t, "geneve aeroport", FoldText("Genève-Aéroport"))
	assert.Equal(t, "", FoldText("--"))
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, NaturalLess("2", "10"))
	assert.False(t, NaturalLess("10", "2"))
	assert.True(t, NaturalLess("7", "7A"))
	assert.True(t, NaturalLess("7A", "7B"))
	assert.True(t, NaturalLess("", "1"))
	assert.True(t, NaturalLess("3", "A"))
}

func TestTrimString(t *testing.T) {
	assert.Equal(t, "short", TrimString("short", 10))
	assert.Equal(t, "Ersatz…", TrimString("Ersatzbus ab Bahnhofplatz", 6))
}

func TestUniqueAndFilter(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Unique([]string{"a", "", "b", "a"}))

	values := []int{1, 2, 3, 4}
	InPlaceFilter(&values, func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{2, 4}, values)
}
