package structdef

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakahashi/tenken/internal/types"
)

const goodDoc = `
places: [
	{
		name: "浄水場"
		categories: [
			{
				name: "管理棟"
				items: [
					{label: "排水流量計", type: "number", standard: 50, threshold: 5},
					{label: "計器盤", type: "checkbox"},
				]
			},
			{name: "沈殿池"},
		]
	},
	{name: "配水池"},
]
`

func TestCompile_PreservesDocumentOrder(t *testing.T) {
	places, err := Compile(goodDoc)
	require.NoError(t, err)
	require.Len(t, places, 2)

	assert.Equal(t, "浄水場", places[0].Name)
	assert.Equal(t, "配水池", places[1].Name)
	require.Len(t, places[0].Categories, 2)
	assert.Equal(t, "管理棟", places[0].Categories[0].Name)
	assert.Equal(t, "沈殿池", places[0].Categories[1].Name)

	items := places[0].Categories[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, "排水流量計", items[0].Label)
	assert.Equal(t, types.ItemNumber, items[0].Type)
	require.NotNil(t, items[0].StandardValue)
	require.NotNil(t, items[0].ErrorThreshold)
	assert.Equal(t, 50.0, *items[0].StandardValue)
	assert.Equal(t, 5.0, *items[0].ErrorThreshold)

	assert.Equal(t, "計器盤", items[1].Label)
	assert.Equal(t, types.ItemCheckbox, items[1].Type)
	assert.Nil(t, items[1].StandardValue)
	assert.Nil(t, items[1].ErrorThreshold)
}

func TestCompile_NumberItemNeedsBand(t *testing.T) {
	doc := `
places: [{
	name: "浄水場"
	categories: [{
		name: "管理棟"
		items: [{label: "排水流量計", type: "number", standard: 50}]
	}]
}]
`
	_, err := Compile(doc)
	require.Error(t, err)
	var cerr *CompileError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Message, "standard and threshold")
}

func TestCompile_CheckboxRejectsBand(t *testing.T) {
	doc := `
places: [{
	name: "浄水場"
	categories: [{
		name: "管理棟"
		items: [{label: "計器盤", type: "checkbox", standard: 1, threshold: 0.5}]
	}]
}]
`
	_, err := Compile(doc)
	require.Error(t, err)
	var cerr *CompileError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Message, "no standard or threshold")
}

func TestCompile_SchemaRejectsBadType(t *testing.T) {
	doc := `
places: [{
	name: "浄水場"
	categories: [{
		name: "管理棟"
		items: [{label: "計器盤", type: "toggle"}]
	}]
}]
`
	_, err := Compile(doc)
	require.Error(t, err)
}

func TestCompile_SchemaRejectsEmptyLabel(t *testing.T) {
	doc := `
places: [{
	name: "浄水場"
	categories: [{name: "管理棟", items: [{label: "", type: "checkbox"}]}]
}]
`
	_, err := Compile(doc)
	require.Error(t, err)
}

func TestCompile_MalformedSourceIsError(t *testing.T) {
	_, err := Compile(`places: [`)
	require.Error(t, err)
}

func TestCompile_MissingPlaces(t *testing.T) {
	_, err := Compile(`other: 1`)
	require.Error(t, err)
}
