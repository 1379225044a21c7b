package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodKindValid(t *testing.T) {
	assert.True(t, PeriodDaily.Valid())
	assert.True(t, PeriodWeekly.Valid())
	assert.True(t, PeriodMonthly.Valid())
	assert.False(t, PeriodKind("hourly").Valid())
	assert.False(t, PeriodKind("").Valid())
}

func TestBuildCategoryTree(t *testing.T) {
	id := func(v int64) *int64 { return &v }
	categories := []Category{
		{ID: 1, Name: "Tech"},
		{ID: 2, Name: "Databases", ParentID: id(1)},
		{ID: 3, Name: "Postgres", ParentID: id(2)},
		{ID: 4, Name: "News"},
	}

	roots := BuildCategoryTree(categories)
	require.Len(t, roots, 2)

	assert.Equal(t, "Tech", roots[0].Name)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "Databases", roots[0].Children[0].Name)
	require.Len(t, roots[0].Children[0].Children, 1)
	assert.Equal(t, "Postgres", roots[0].Children[0].Children[0].Name)

	assert.Equal(t, "News", roots[1].Name)
	assert.Empty(t, roots[1].Children)
}

func TestBuildCategoryTreeOrphanBecomesRoot(t *testing.T) {
	missing := int64(99)
	roots := BuildCategoryTree([]Category{{ID: 1, Name: "Stray", ParentID: &missing}})
	require.Len(t, roots, 1)
	assert.Equal(t, "Stray", roots[0].Name)
}
