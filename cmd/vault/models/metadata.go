package models

// Metadata is one indexed content entry owned by a DID.
// Maps to: metadata table
type Metadata struct {
	ID int64 `db:"id" json:"-"`

	// Owner DID, stored lower-cased
	DID string `db:"did" json:"did"`

	// Owner-chosen grouping key; not unique
	Key string `db:"key" json:"key"`

	// Content identifier returned by the blob store
	CID string `db:"cid" json:"cid"`

	// Byte length of the content at write time
	ContentSize int64 `db:"content_size" json:"content_size"`
}

// BackupEntry is one raw metadata row in an owner's backup export
type BackupEntry struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

// ContentItem is a stored blob together with its content id
type ContentItem struct {
	ID      string
	Content []byte
}
