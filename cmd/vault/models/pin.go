package models

// OrphanedPin is published when a pin could not be rolled back after a failed
// index write. The reconciler releases it later.
type OrphanedPin struct {
	CID    string `json:"cid"`
	DID    string `json:"did"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}
