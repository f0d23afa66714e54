package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func sampleTree() []Environment {
	return []Environment{
		{ID: "plant", CompanyID: "c1", Name: "Plant", Level: LevelRoot},
		{ID: "north", CompanyID: "c1", ParentID: ptr("plant"), Name: "North", Level: LevelArea},
		{ID: "assembly", CompanyID: "c1", ParentID: ptr("north"), Name: "Assembly", Level: LevelSector},
		{ID: "bench", CompanyID: "c1", ParentID: ptr("assembly"), Name: "Bench 1", Level: LevelLocation},
		{ID: "east", CompanyID: "c1", ParentID: ptr("plant"), Name: "East", Level: LevelArea},
		{ID: "orphan", CompanyID: "c1", ParentID: ptr("gone"), Name: "Orphan", Level: LevelSector},
	}
}

func TestBuildTree(t *testing.T) {
	roots := BuildTree(sampleTree())

	require.Len(t, roots, 2)
	assert.Equal(t, "orphan", roots[0].ID)
	assert.Equal(t, "plant", roots[1].ID)

	plant := roots[1]
	require.Len(t, plant.Children, 2)
	assert.Equal(t, "East", plant.Children[0].Name, "siblings sorted by name")
	assert.Equal(t, "bench", plant.Children[1].Children[0].Children[0].ID)
}

func TestDescendants(t *testing.T) {
	got := Descendants(sampleTree(), "north")
	assert.ElementsMatch(t, []string{"north", "assembly", "bench"}, got)

	assert.Equal(t, []string{"bench"}, Descendants(sampleTree(), "bench"))
}

func TestPath(t *testing.T) {
	path := Path(sampleTree(), "bench")

	var ids []string
	for _, env := range path {
		ids = append(ids, env.ID)
	}
	assert.Equal(t, []string{"plant", "north", "assembly", "bench"}, ids)
	assert.Empty(t, Path(sampleTree(), "missing"))
}

func TestPathStopsOnCycle(t *testing.T) {
	envs := []Environment{
		{ID: "a", ParentID: ptr("b")},
		{ID: "b", ParentID: ptr("a")},
	}
	assert.Len(t, Path(envs, "a"), 2)
}

func TestValidateParent(t *testing.T) {
	root := &Environment{ID: "r", CompanyID: "c1", Level: LevelRoot}
	sector := &Environment{ID: "s", CompanyID: "c1", Level: LevelSector}

	assert.NoError(t, root.ValidateParent(nil))
	assert.Error(t, sector.ValidateParent(nil), "non-root needs a parent")
	assert.NoError(t, sector.ValidateParent(root))
	assert.Error(t, root.ValidateParent(sector), "level must get deeper")

	foreign := &Environment{ID: "x", CompanyID: "c2", Level: LevelRoot}
	assert.Error(t, sector.ValidateParent(foreign))

	bad := &Environment{Level: "galaxy"}
	assert.Error(t, bad.ValidateParent(nil))
}
