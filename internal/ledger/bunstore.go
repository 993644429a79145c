package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Record is one opaque ledger row.
type Record struct {
	bun.BaseModel `bun:"table:ledger_records"`

	Key   string `bun:"key,pk"`
	Value []byte `bun:"value,type:jsonb,notnull"`
}

// BunStore implements Store on a single Postgres table via bun.
type BunStore struct {
	db *bun.DB
}

var _ Store = (*BunStore)(nil)

// NewBunStore opens a Postgres connection and ensures the backing table
// exists.
func NewBunStore(ctx context.Context, dsn string) (*BunStore, error) {
	pgdb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(pgdb, pgdialect.New())

	if _, err := db.NewCreateTable().
		Model((*Record)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger_records table: %w", err)
	}

	return &BunStore{db: db}, nil
}

func (s *BunStore) Get(ctx context.Context, key string) ([]byte, error) {
	record := new(Record)
	err := s.db.NewSelect().
		Model(record).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record %q: %w", key, err)
	}
	return record.Value, nil
}

func (s *BunStore) Put(ctx context.Context, key string, value []byte) error {
	record := &Record{Key: key, Value: value}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert record %q: %w", key, err)
	}
	return nil
}

func (s *BunStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.NewSelect().
		Model((*Record)(nil)).
		Column("key").
		Where("key LIKE ?", prefix+"%").
		Order("key ASC").
		Scan(ctx, &keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list records with prefix %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
