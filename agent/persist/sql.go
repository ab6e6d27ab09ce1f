package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true"`
}

type SQLiteConfig struct {
	Path string `envconfig:"PATH" split_words:"true" default:"file:records.db?_pragma=busy_timeout(5000)"`
}

type recordRow struct {
	bun.BaseModel `bun:"table:domain_records"`

	Key       string    `bun:"record_key,pk"`
	Kind      string    `bun:"kind,notnull"`
	RecordID  string    `bun:"record_id,notnull"`
	Payload   string    `bun:"payload,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLBackend stores records in one table keyed by kind and id. Writes are a
// single upsert statement.
type SQLBackend struct {
	db  *bun.DB
	now func() time.Time
}

func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func OpenSQLite(cfg SQLiteConfig) (*bun.DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// NewSQLBackend creates the records table when it does not exist yet.
func NewSQLBackend(ctx context.Context, db *bun.DB) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("bun db is nil")
	}
	if _, err := db.NewCreateTable().Model((*recordRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &SQLBackend{db: db, now: time.Now}, nil
}

func (b *SQLBackend) Put(ctx context.Context, kind domain.Kind, id string, payload []byte) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}
	row := &recordRow{
		Key:       recordKey(kind, id),
		Kind:      string(kind),
		RecordID:  id,
		Payload:   string(payload),
		UpdatedAt: b.now().UTC(),
	}
	_, err := b.db.NewInsert().
		Model(row).
		On("CONFLICT (record_key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", row.Key, err)
	}
	return nil
}

func (b *SQLBackend) Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error) {
	var row recordRow
	err := b.db.NewSelect().
		Model(&row).
		Where("record_key = ?", recordKey(kind, id)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", contractx.ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", kind, id, err)
	}
	return []byte(row.Payload), nil
}

func (b *SQLBackend) List(ctx context.Context, kind domain.Kind) ([]string, error) {
	var ids []string
	err := b.db.NewSelect().
		Model((*recordRow)(nil)).
		Column("record_id").
		Where("kind = ?", string(kind)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return ids, nil
}

func (b *SQLBackend) Delete(ctx context.Context, kind domain.Kind, id string) error {
	_, err := b.db.NewDelete().
		Model((*recordRow)(nil)).
		Where("record_key = ?", recordKey(kind, id)).
		Exec(ctx)
	return err
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
