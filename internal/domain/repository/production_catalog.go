package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"

	"github.com/gosimple/slug"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
)

// ProductionCatalog resolves a subject id to its immutable descriptive context.
type ProductionCatalog interface {
	Resolve(ctx context.Context, subjectID string) (*model.Subject, error)
	Upsert(ctx context.Context, subject model.Subject) error
}

type sqlProductionCatalog struct {
	db *sqlx.DB
}

func NewSQLProductionCatalog(db *sqlx.DB) ProductionCatalog {
	return &sqlProductionCatalog{db: db}
}

type briefRow struct {
	ID         string      `db:"id"`
	Kind       string      `db:"kind"`
	Vertical   string      `db:"vertical"`
	GammeAlias null.String `db:"gamme_alias"`
	GammeID    null.Int    `db:"gamme_id"`
}

func (c *sqlProductionCatalog) Resolve(ctx context.Context, subjectID string) (*model.Subject, error) {
	var row briefRow
	query := c.db.Rebind(`SELECT id, kind, vertical, gamme_alias, gamme_id FROM production_briefs WHERE id = ?`)
	if err := c.db.GetContext(ctx, &row, query, subjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("sqlProductionCatalog.Resolve: %w", err)
	}
	subject := &model.Subject{ID: row.ID, Kind: row.Kind, Vertical: row.Vertical}
	if row.GammeAlias.Valid && row.GammeID.Valid {
		subject.Gamme = &model.GammeContext{Alias: row.GammeAlias.String, ID: row.GammeID.Int64}
	}
	return subject, nil
}

// Upsert registers or replaces a brief. The gamme alias is stored slugified.
func (c *sqlProductionCatalog) Upsert(ctx context.Context, subject model.Subject) error {
	if strings.TrimSpace(subject.ID) == "" || subject.Kind == "" || subject.Vertical == "" {
		return fmt.Errorf("brief requires id, kind and vertical: %w", common.ErrValidation)
	}
	var alias null.String
	var gammeID null.Int
	if subject.Gamme != nil {
		alias = null.StringFrom(slug.Make(subject.Gamme.Alias))
		gammeID = null.IntFrom(subject.Gamme.ID)
	}
	query := c.db.Rebind(`INSERT INTO production_briefs (id, kind, vertical, gamme_alias, gamme_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, vertical = excluded.vertical,
			gamme_alias = excluded.gamme_alias, gamme_id = excluded.gamme_id`)
	if _, err := c.db.ExecContext(ctx, query, subject.ID, subject.Kind, subject.Vertical, alias, gammeID); err != nil {
		return fmt.Errorf("sqlProductionCatalog.Upsert: %w", err)
	}
	return nil
}
