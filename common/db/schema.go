package db

import (
	"context"
	"fmt"
)

// Schema creates the metadata index and pin reference tables.
// metadata.id preserves creation order for find/backup listings.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
	id           BIGSERIAL PRIMARY KEY,
	did          TEXT   NOT NULL,
	key          TEXT   NOT NULL,
	cid          TEXT   NOT NULL,
	content_size BIGINT NOT NULL CHECK (content_size >= 0)
);

CREATE INDEX IF NOT EXISTS metadata_did_key_idx ON metadata (did, key);

CREATE TABLE IF NOT EXISTS pin (
	id    BIGSERIAL PRIMARY KEY,
	cid   TEXT    NOT NULL UNIQUE,
	count INTEGER NOT NULL CHECK (count > 0)
);
`

// Migrate applies Schema. It is safe to run on every start.
func Migrate(ctx context.Context, database *DB) error {
	if _, err := database.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	database.log.Info("database schema applied")
	return nil
}
