package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/db"
	"github.com/lyzr/datavault/common/did"
)

// MetadataRepository indexes content per owner and key.
// Every method normalizes the owner DID before touching the table.
type MetadataRepository struct {
	db *db.DB
}

// NewMetadataRepository creates a new metadata repository
func NewMetadataRepository(db *db.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Save inserts a metadata row
func (r *MetadataRepository) Save(ctx context.Context, owner, key, cid string, size int64) error {
	query := `
		INSERT INTO metadata (did, key, cid, content_size)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.Exec(ctx, query, did.Normalize(owner), key, cid, size); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Find returns the content ids under (owner, key) in creation order
func (r *MetadataRepository) Find(ctx context.Context, owner, key string) ([]string, error) {
	query := `
		SELECT cid
		FROM metadata
		WHERE did = $1 AND key = $2
		ORDER BY id
	`

	return r.queryStrings(ctx, "find metadata", query, did.Normalize(owner), key)
}

// FindOldest returns the row Delete would remove for (owner, key, cid),
// or nil when none matches
func (r *MetadataRepository) FindOldest(ctx context.Context, owner, key, cid string) (*models.Metadata, error) {
	query := `
		SELECT id, did, key, cid, content_size
		FROM metadata
		WHERE did = $1 AND key = $2 AND cid = $3
		ORDER BY id
		LIMIT 1
	`

	var m models.Metadata
	err := r.db.QueryRow(ctx, query, did.Normalize(owner), key, cid).
		Scan(&m.ID, &m.DID, &m.Key, &m.CID, &m.ContentSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find metadata: %w", err)
	}
	return &m, nil
}

// Delete removes the oldest row matching (owner, key, cid).
// Returns false when no row matched.
func (r *MetadataRepository) Delete(ctx context.Context, owner, key, cid string) (bool, error) {
	query := `
		DELETE FROM metadata
		WHERE id = (
			SELECT id FROM metadata
			WHERE did = $1 AND key = $2 AND cid = $3
			ORDER BY id
			LIMIT 1
		)
	`

	tag, err := r.db.Exec(ctx, query, did.Normalize(owner), key, cid)
	if err != nil {
		return false, fmt.Errorf("failed to delete metadata: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetKeys returns the owner's distinct keys in first-seen order
func (r *MetadataRepository) GetKeys(ctx context.Context, owner string) ([]string, error) {
	query := `
		SELECT key
		FROM metadata
		WHERE did = $1
		GROUP BY key
		ORDER BY MIN(id)
	`

	return r.queryStrings(ctx, "get keys", query, did.Normalize(owner))
}

// GetUsedStorage sums content sizes over all of the owner's rows
func (r *MetadataRepository) GetUsedStorage(ctx context.Context, owner string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(content_size), 0)
		FROM metadata
		WHERE did = $1
	`

	var used int64
	if err := r.db.QueryRow(ctx, query, did.Normalize(owner)).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to get used storage: %w", err)
	}
	return used, nil
}

// GetUsedStorageByOwnerKeyAndContentID sums content sizes under (owner, key),
// further restricted to cid when cid is non-empty
func (r *MetadataRepository) GetUsedStorageByOwnerKeyAndContentID(ctx context.Context, owner, key, cid string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(content_size), 0)
		FROM metadata
		WHERE did = $1 AND key = $2 AND ($3 = '' OR cid = $3)
	`

	var used int64
	if err := r.db.QueryRow(ctx, query, did.Normalize(owner), key, cid).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to get used storage by key: %w", err)
	}
	return used, nil
}

// GetBackup lists every row of the owner in creation order, duplicates included
func (r *MetadataRepository) GetBackup(ctx context.Context, owner string) ([]models.BackupEntry, error) {
	query := `
		SELECT key, cid
		FROM metadata
		WHERE did = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, did.Normalize(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	defer rows.Close()

	entries := []models.BackupEntry{}
	for rows.Next() {
		var entry models.BackupEntry
		if err := rows.Scan(&entry.Key, &entry.ID); err != nil {
			return nil, fmt.Errorf("failed to scan backup entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	return entries, nil
}

func (r *MetadataRepository) queryStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to %s: %w", op, err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return values, nil
}
