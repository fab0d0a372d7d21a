package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/shoplist/internal/db"
	"github.com/atinyakov/shoplist/internal/docstore"
)

// PostgresDocumentRepository stores documents as JSONB rows and announces
// every write on db.ChangeChannel.
type PostgresDocumentRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresDocumentRepository creates a new PostgresDocumentRepository using the provided *sql.DB.
func NewPostgresDocumentRepository(db *sql.DB) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{DB: db}
}

// changeNotice is the NOTIFY payload. It names the document only; listeners
// re-read it, since payloads are capped at 8000 bytes.
type changeNotice struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// GetDocument reads collection/id. A missing row yields Exists == false.
func (r *PostgresDocumentRepository) GetDocument(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	snap := docstore.Snapshot{Collection: collection, ID: id}
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT fields, updated_at FROM documents WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("GetDocument: %w", err)
	}
	if err := json.Unmarshal(raw, &snap.Fields); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("decode fields: %w", err)
	}
	snap.Exists = true
	snap.UpdatedAt = updatedAt.UTC()
	return snap, nil
}

// SetDocument replaces the fields of collection/id, creating the row if
// needed, and notifies listeners in the same transaction.
func (r *PostgresDocumentRepository) SetDocument(ctx context.Context, collection, id string, fields docstore.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	notice, err := json.Marshal(changeNotice{Collection: collection, ID: id})
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at
	`, collection, id, raw)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, db.ChangeChannel, string(notice)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
