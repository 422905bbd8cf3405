package types

import "time"

// QueryRecord is the audit entry written after a ranked retrieval. It holds
// a hash of the query, never the text itself.
type QueryRecord struct {
	ID        string
	QueryHash string
	Intent    Category
	Mode      Mode
	Archetype Archetype
	Stage     Stage
	Returned  int
	CreatedAt time.Time
}
