package repository

import (
	"context"
	"path/filepath"
	"testing"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"
	"videojobs/internal/platform/database"
	"videojobs/internal/testutil"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogBackends() map[string]func(t *testing.T) *sqlx.DB {
	return map[string]func(t *testing.T) *sqlx.DB{
		"sqlite": func(t *testing.T) *sqlx.DB {
			db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return db
		},
		"postgres": func(t *testing.T) *sqlx.DB {
			testDB := testutil.SetupTestDB(t)
			t.Cleanup(func() { testDB.Teardown(t) })
			return testDB.DB
		},
	}
}

func TestProductionCatalog(t *testing.T) {
	for name, open := range catalogBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			catalog := NewSQLProductionCatalog(open(t))

			require.NoError(t, catalog.Upsert(ctx, model.Subject{
				ID: "brief-001", Kind: "brief", Vertical: "auto",
				Gamme: &model.GammeContext{Alias: "Clio V Éditions", ID: 42},
			}))
			require.NoError(t, catalog.Upsert(ctx, model.Subject{ID: "brief-002", Kind: "brief", Vertical: "moto"}))

			subject, err := catalog.Resolve(ctx, "brief-001")
			require.NoError(t, err)
			assert.Equal(t, "auto", subject.Vertical)
			require.NotNil(t, subject.Gamme)
			assert.Equal(t, "clio-v-editions", subject.Gamme.Alias)
			assert.Equal(t, int64(42), subject.Gamme.ID)

			subject, err = catalog.Resolve(ctx, "brief-002")
			require.NoError(t, err)
			assert.Nil(t, subject.Gamme)

			require.NoError(t, catalog.Upsert(ctx, model.Subject{ID: "brief-002", Kind: "brief", Vertical: "scooter"}))
			subject, err = catalog.Resolve(ctx, "brief-002")
			require.NoError(t, err)
			assert.Equal(t, "scooter", subject.Vertical)

			_, err = catalog.Resolve(ctx, "brief-404")
			assert.ErrorIs(t, err, common.ErrNotFound)

			err = catalog.Upsert(ctx, model.Subject{ID: "brief-003", Kind: "brief"})
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}
