package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a metadata row does not exist.
var ErrNotFound = errors.New("not found")

// Metadata is the parent record every stored vector belongs to.
type Metadata struct {
	ID         int       `json:"id"`
	ObjectType string    `json:"object_type"`
	RefID      string    `json:"ref_id"`
	TeamID     string    `json:"team_id,omitempty"`
	FullText   string    `json:"full_text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateMetadata inserts m and fills in its ID and CreatedAt.
func (s *Store) CreateMetadata(ctx context.Context, m *Metadata) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO "EmbeddingsMetadata" ("objectType", "refId", "teamId", "fullText")
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 RETURNING "id", "createdAt"`,
		m.ObjectType, m.RefID, m.TeamID, m.FullText,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

// GetMetadata returns a metadata row by ID.
func (s *Store) GetMetadata(ctx context.Context, id int) (*Metadata, error) {
	var m Metadata
	err := s.db.QueryRow(ctx,
		`SELECT "id", "objectType", "refId", COALESCE("teamId", ''), COALESCE("fullText", ''), "createdAt"
		 FROM "EmbeddingsMetadata" WHERE "id" = $1`, id,
	).Scan(&m.ID, &m.ObjectType, &m.RefID, &m.TeamID, &m.FullText, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return &m, nil
}

// DeleteMetadata removes a metadata row; its vectors go with it via ON DELETE CASCADE.
func (s *Store) DeleteMetadata(ctx context.Context, id int) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM "EmbeddingsMetadata" WHERE "id" = $1`, id)
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
