package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Migration is one forward-only schema step.
type Migration struct {
	Name    string
	Version string
	Up      string
}

// Migrations is the ordered schema history for the creditline store.
var Migrations = []Migration{
	{
		Name:    "create_creditline_accounts",
		Version: "20250101000001",
		Up: `
CREATE TABLE IF NOT EXISTS creditline_accounts (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Name:    "create_creditline_chats",
		Version: "20250101000002",
		Up: `
CREATE TABLE IF NOT EXISTS creditline_chats (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES creditline_accounts (id) ON DELETE CASCADE,
    name       TEXT NOT NULL DEFAULT '',
    owner_name TEXT NOT NULL DEFAULT '',
    turn_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_creditline_chats_account ON creditline_chats (account_id, updated_at DESC);
`,
	},
	{
		Name:    "create_creditline_turns",
		Version: "20250101000003",
		Up: `
CREATE TABLE IF NOT EXISTS creditline_turns (
    id         TEXT PRIMARY KEY,
    chat_id    TEXT NOT NULL REFERENCES creditline_chats (id) ON DELETE CASCADE,
    account_id TEXT NOT NULL,
    seq        INT NOT NULL,
    kind       TEXT NOT NULL,
    prompt     TEXT NOT NULL DEFAULT '',
    reply      TEXT NOT NULL DEFAULT '',
    published  BOOLEAN NOT NULL DEFAULT FALSE,
    cost       BIGINT NOT NULL DEFAULT 0,
    billed     BOOLEAN NOT NULL DEFAULT FALSE,
    billed_at  TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (chat_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_creditline_turns_unbilled ON creditline_turns (created_at, id) WHERE NOT billed;
CREATE INDEX IF NOT EXISTS idx_creditline_turns_published ON creditline_turns (created_at DESC, id DESC)
    WHERE published AND kind = 'image';
`,
	},
	{
		Name:    "create_creditline_transactions",
		Version: "20250101000004",
		Up: `
CREATE TABLE IF NOT EXISTS creditline_transactions (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES creditline_accounts (id),
    plan_id    TEXT NOT NULL DEFAULT '',
    amount     BIGINT NOT NULL DEFAULT 0,
    currency   TEXT NOT NULL DEFAULT 'usd',
    credits    BIGINT NOT NULL CHECK (credits > 0),
    status     TEXT NOT NULL DEFAULT 'pending',
    settled_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_creditline_transactions_account ON creditline_transactions (account_id, created_at DESC);
`,
	},
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS creditline_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// migrate applies every migration not yet recorded, each in its own
// transaction. A session advisory lock keeps concurrent starters apart.
func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext('creditline_migrations'))`); err != nil {
		return err
	}
	defer conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtext('creditline_migrations'))`) //nolint:errcheck // released with the session anyway

	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return err
	}

	for _, m := range Migrations {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM creditline_migrations WHERE version = $1)`, m.Version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO creditline_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s (%s): %w", m.Name, m.Version, err)
		}
	}
	return nil
}
