package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Match is one nearest-neighbour result.
type Match struct {
	ID         int     `json:"id"`
	MetadataID int     `json:"metadata_id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// InsertEmbeddings stores one row per (text, vector) pair in table.
// table must come from the model registry.
func (s *Store) InsertEmbeddings(ctx context.Context, table string, metadataID int, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("insert embeddings: %d texts for %d vectors", len(texts), len(vectors))
	}
	query := fmt.Sprintf(
		`INSERT INTO %s ("embedText", "embedding", "embeddingsMetadataId") VALUES ($1, $2, $3)`,
		pgx.Identifier{table}.Sanitize())

	batch := &pgx.Batch{}
	for i, text := range texts {
		batch.Queue(query, text, pgvector.NewVector(vectors[i]), metadataID)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert embeddings into %s: %w", table, err)
	}
	return nil
}

// SearchSimilar returns the rows of table closest to vector by cosine distance.
func (s *Store) SearchSimilar(ctx context.Context, table string, vector []float32, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(
		`SELECT "id", "embeddingsMetadataId", COALESCE("embedText", ''), 1 - ("embedding" <=> $1) AS similarity
		 FROM %s ORDER BY "embedding" <=> $1 LIMIT $2`,
		pgx.Identifier{table}.Sanitize())

	rows, err := s.db.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.MetadataID, &m.Text, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
