package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/layerstore/database"
	"github.com/stevemurr/layerstore/store"
)

func setupEngines(t *testing.T) *database.View {
	t.Helper()
	ctx := context.Background()
	db := setup(t, newFleet(), decl("cars", database.PersistenceLayer), decl("refs", database.PopulationLayer))
	population := db.PopulationDatabases()
	for _, doc := range []map[string]any{
		{"id": "V6", "cylinders": 6},
		{"id": "V8", "cylinders": 8},
		{"id": 12, "cylinders": 12},
	} {
		_, err := population.Save(ctx, doc, database.InCollection("engines"))
		require.NoError(t, err)
	}
	_, err := population.Save(ctx, map[string]any{"id": "manual"}, database.InCollection("transmissions"))
	require.NoError(t, err)
	return population
}

func TestPopulate(t *testing.T) {
	ctx := context.Background()
	population := setupEngines(t)

	t.Run("nothing requested", func(t *testing.T) {
		doc := store.Document{"engine": "V6"}
		out, err := population.Populate(ctx, doc, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, store.Document{"engine": "V6"}, out)

		out, err = population.Populate(ctx, doc, []string{}, []string{})
		require.NoError(t, err)
		assert.Equal(t, "V6", out["engine"])
	})

	t.Run("single references", func(t *testing.T) {
		doc := store.Document{"id": "c1", "engine": "V6", "gearbox": "manual"}
		out, err := population.Populate(ctx, doc, []string{"engine", "gearbox"}, []string{"engines", "transmissions"})
		require.NoError(t, err)

		engine, ok := out["engine"].(store.Document)
		require.True(t, ok)
		assert.EqualValues(t, 6, engine["cylinders"])
		gearbox, ok := out["gearbox"].(store.Document)
		require.True(t, ok)
		assert.Equal(t, "manual", gearbox["_id"])
		assert.Equal(t, "c1", doc["id"])
		assert.Equal(t, out, doc, "populated in place")
	})

	t.Run("list keeps order and duplicates", func(t *testing.T) {
		out, err := population.Populate(ctx, store.Document{"engines": []any{"V8", "V6", "V8", 12}}, []string{"engines"}, []string{"engines"})
		require.NoError(t, err)

		engines := out["engines"].([]any)
		require.Len(t, engines, 4)
		for i, want := range []float64{8, 6, 8, 12} {
			record, ok := engines[i].(store.Document)
			require.True(t, ok, "entry %d", i)
			assert.EqualValues(t, want, record["cylinders"])
		}
	})

	t.Run("partial list", func(t *testing.T) {
		doc := store.Document{"engines": []any{"V6", "V10"}}
		out, err := population.Populate(ctx, doc, []string{"engines"}, []string{"engines"})
		assert.ErrorIs(t, err, database.ErrPopulatePartial)

		engines := out["engines"].([]any)
		require.Len(t, engines, 2)
		assert.Equal(t, "V6", engines[0].(store.Document)["_id"])
		assert.Equal(t, "V10", engines[1])

		var popErr *database.PopulateError
		require.ErrorAs(t, err, &popErr)
		assert.Equal(t, doc, popErr.Document)
	})

	t.Run("partial properties", func(t *testing.T) {
		doc := store.Document{"primaryEngine": "V12", "backupEngine": "V6"}
		out, err := population.Populate(ctx, doc, []string{"primaryEngine", "backupEngine"}, []string{"engines", "engines"})
		assert.ErrorIs(t, err, database.ErrPopulatePartial)
		assert.Equal(t, "V12", out["primaryEngine"])
		assert.IsType(t, store.Document{}, out["backupEngine"])
	})

	t.Run("unresolved", func(t *testing.T) {
		engines := []any{"V2", "V4"}
		doc := store.Document{"engines": engines, "engine": ""}
		out, err := population.Populate(ctx, doc, []string{"engines", "engine", "missing"}, []string{"engines", "engines", "engines"})
		assert.ErrorIs(t, err, database.ErrPopulateUnresolved)
		assert.Equal(t, engines, out["engines"])
		assert.Equal(t, "", out["engine"])
	})

	t.Run("lookup errors are swallowed", func(t *testing.T) {
		doc := store.Document{"engine": "V6", "gearbox": "manual"}
		out, err := population.Populate(ctx, doc, []string{"engine", "gearbox"}, []string{"engines"})
		assert.ErrorIs(t, err, database.ErrPopulatePartial)
		assert.Equal(t, "manual", out["gearbox"])

		out, err = population.Populate(ctx, store.Document{"engine": "V6"}, []string{"engine"}, []string{""})
		assert.ErrorIs(t, err, database.ErrPopulateUnresolved)
		assert.Equal(t, "V6", out["engine"])
	})
}
