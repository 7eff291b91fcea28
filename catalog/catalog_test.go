package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/model"
)

type item struct {
	ID   uint32
	Name string
}

func itemModel() model.Model {
	return model.NewBuilder[item](1, 0).
		Primary("id", func(v *item) key.Key { return key.FromUint32(v.ID) }).
		Secondary("name", key.Options{Unique: true}, func(v *item) key.Entry {
			return key.Mandatory(key.FromString(v.Name))
		}).
		Build()
}

func TestBuildAssignsPrimaryAndSecondaryTableNames(t *testing.T) {
	r := model.NewRegistry()
	require.NoError(t, r.Define(itemModel()))

	c, err := Build(r)
	require.NoError(t, err)

	pt, ok := Lookup[item](c, r)
	require.True(t, ok)
	assert.Equal(t, "1_0_id", pt.PrimaryTableName)
	assert.False(t, pt.Legacy)

	nameDef, ok := pt.Schema.SecondaryKeyDefinition("name")
	require.True(t, ok)
	assert.Equal(t, "1_0_name", pt.SecondaryTables[nameDef])
}

func TestLookupMissingTypeReturnsFalse(t *testing.T) {
	r := model.NewRegistry()
	c, err := Build(r)
	require.NoError(t, err)

	_, ok := Lookup[item](c, r)
	assert.False(t, ok)
}

func TestAllReturnsEveryTableWithLegacyFlag(t *testing.T) {
	r := model.NewRegistry()
	require.NoError(t, r.Define(itemModel()))

	legacy := model.NewBuilder[item](1, 1).
		Primary("id", func(v *item) key.Key { return key.FromUint32(v.ID) }).
		Build()
	require.NoError(t, r.DefineLegacy(legacy))

	c, err := Build(r)
	require.NoError(t, err)

	all := c.All()
	require.Len(t, all, 2)

	var sawLegacy, sawCurrent bool
	for _, pt := range all {
		if pt.Legacy {
			sawLegacy = true
			assert.Equal(t, uint32(1), pt.ModelVersion)
		} else {
			sawCurrent = true
			assert.Equal(t, uint32(0), pt.ModelVersion)
		}
	}
	assert.True(t, sawLegacy)
	assert.True(t, sawCurrent)
}
