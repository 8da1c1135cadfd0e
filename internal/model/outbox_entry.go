package model

import "database/sql"

// OutboxEntry is one durable intent to replicate a local mutation.
// Rows are created in the same transaction as the mutation they describe
// and are only ever updated by the push phase.
type OutboxEntry struct {
	ID            string         `db:"id"`
	EntityType    EntityType     `db:"entity_type"`
	Operation     Operation      `db:"operation"`
	EntityID      string         `db:"entity_id"`
	Payload       []byte         `db:"payload"`
	Synced        bool           `db:"synced"`
	RetryCount    int            `db:"retry_count"`
	NextAttemptAt NullUnixTime   `db:"next_attempt_at"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     UnixTime       `db:"created_at"`
}

// EventType returns the wire event type this entry produces when pushed.
func (e OutboxEntry) EventType() string {
	return EventTypeFor(e.EntityType, e.Operation)
}
