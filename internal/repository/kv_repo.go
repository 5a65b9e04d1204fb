package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNoValue is returned when no row exists for the requested name.
var ErrNoValue = errors.New("repository: no value")

type KVRow struct {
	Name      string    `db:"name"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}

type KVRepository struct {
	db *sqlx.DB
}

func NewKVRepository(db *sqlx.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Get(ctx context.Context, name string) ([]byte, error) {
	var row KVRow
	err := r.db.GetContext(ctx, &row,
		`SELECT name, payload, updated_at FROM cache_store WHERE name = ?`, name,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoValue
		}
		return nil, err
	}
	return row.Payload, nil
}

func (r *KVRepository) Put(ctx context.Context, name string, payload []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cache_store (name, payload, updated_at) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
		name, payload, time.Now().UTC(),
	)
	return err
}

func (r *KVRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_store WHERE name = ?`, name)
	return err
}
