package snapshot

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mudforge/engine/internal/command"
	"github.com/mudforge/engine/internal/entity"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies every pending migration for the snapshots,
// transfer_wal, and lingering_sessions tables.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("snapshot: set migration dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("snapshot: run migrations: %w", err)
	}
	return nil
}

// PostgresStore is the optional Postgres-backed alternative to
// FileStore. It keeps every write; rotation is the operator's call via
// Prune or ordinary SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. The caller is
// responsible for running RunMigrations first.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Write inserts a new row. Postgres's own transaction durability
// guarantees a partial write can never be read back as the latest
// snapshot.
func (s *PostgresStore) Write(ctx context.Context, snap Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (tick, captured_at, schema_version, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tick) DO UPDATE SET captured_at = $2, schema_version = $3, payload = $4`,
		int64(snap.Tick), time.Unix(snap.CapturedAtEpoch, 0).UTC(), int32(snap.SchemaVersion), Encode(snap))
	if err != nil {
		return fmt.Errorf("snapshot: insert: %w", err)
	}
	return nil
}

// Latest returns the highest-tick row, decoded.
func (s *PostgresStore) Latest(ctx context.Context) (Snapshot, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT payload FROM snapshots ORDER BY tick DESC LIMIT 1`)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		return Snapshot{}, false, nil //nolint:nilerr // "no rows" is the expected empty-store case, not an error
	}
	snap, err := Decode(payload)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: decode latest row: %w", err)
	}
	return snap, true, nil
}

// Prune deletes all but the Keep most recent rows.
func (s *PostgresStore) Prune(ctx context.Context, keep int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM snapshots WHERE tick NOT IN (
			SELECT tick FROM snapshots ORDER BY tick DESC LIMIT $1
		)`, keep)
	return err
}

// TransferWAL implements command.WAL against the transfer_wal table:
// entries are written before transfer commands apply. At boot,
// cmd/simhost reads the unprocessed entries back and logs them; they
// are not re-applied. It carries the generic command.TransferInfo
// shape, since the engine layer is ignorant of what a "transfer" means
// gameplay-wise.
type TransferWAL struct {
	pool *pgxpool.Pool
}

// NewTransferWAL wraps an already-migrated pool.
func NewTransferWAL(pool *pgxpool.Pool) *TransferWAL { return &TransferWAL{pool: pool} }

// Write inserts entries atomically in one transaction, satisfying
// command.WAL: a tick's transfers are either all logged or none are.
func (w *TransferWAL) Write(entries []command.TransferInfo) error {
	ctx := context.Background()
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: wal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transfer_wal (tx_kind, from_entity, to_entity, detail) VALUES ($1, $2, $3, $4)`,
			e.Kind, int64(e.From), int64(e.To), e.Detail,
		); err != nil {
			return fmt.Errorf("snapshot: wal insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ReplayUnprocessed returns every WAL entry not yet marked processed,
// oldest first. It only reads; applying the entries is up to the caller.
func (w *TransferWAL) ReplayUnprocessed(ctx context.Context) ([]command.TransferInfo, error) {
	rows, err := w.pool.Query(ctx, `SELECT tx_kind, from_entity, to_entity, detail FROM transfer_wal WHERE processed = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: wal query: %w", err)
	}
	defer rows.Close()

	var out []command.TransferInfo
	for rows.Next() {
		var kind, detail string
		var from, to int64
		if err := rows.Scan(&kind, &from, &to, &detail); err != nil {
			return nil, fmt.Errorf("snapshot: wal scan: %w", err)
		}
		out = append(out, command.TransferInfo{Kind: kind, Detail: detail, From: entity.ID(uint64(from)), To: entity.ID(uint64(to))})
	}
	return out, rows.Err()
}

// MarkProcessed marks every currently-unprocessed WAL row as processed.
// Nothing in this module calls it, so logged rows stay unprocessed and
// are returned by ReplayUnprocessed again on every boot.
func (w *TransferWAL) MarkProcessed(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, `UPDATE transfer_wal SET processed = TRUE WHERE processed = FALSE`)
	return err
}

// LingerAudit records expired lingering sessions in the
// lingering_sessions table, so operators can trace which entities the
// grace-period sweep persisted and despawned.
type LingerAudit struct {
	pool *pgxpool.Pool
}

// NewLingerAudit wraps an already-migrated pool.
func NewLingerAudit(pool *pgxpool.Pool) *LingerAudit { return &LingerAudit{pool: pool} }

// RecordExpiry upserts one expiry record.
func (a *LingerAudit) RecordExpiry(ctx context.Context, sessionID uint64, e entity.ID, disconnectedAt, expiredAt time.Time) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO lingering_sessions (session_id, entity, disconnected_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET entity = $2, disconnected_at = $3, expires_at = $4`,
		int64(sessionID), int64(e), disconnectedAt.UTC(), expiredAt.UTC())
	if err != nil {
		return fmt.Errorf("snapshot: linger audit insert: %w", err)
	}
	return nil
}
