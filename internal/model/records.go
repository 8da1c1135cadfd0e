package model

import "database/sql"

// SyncMeta is the sync bookkeeping attached to every syncable record.
// UpdatedAt is the sole input to conflict resolution.
type SyncMeta struct {
	Synced           bool           `db:"synced"`
	ServerID         sql.NullString `db:"server_id"`
	ConflictResolved bool           `db:"conflict_resolved"`
	UpdatedAt        UnixTime       `db:"updated_at"`
}

// Transaction is a local transaction row.
type Transaction struct {
	ID            string         `db:"id"`
	AccountID     string         `db:"account_id"`
	CategoryID    sql.NullString `db:"category_id"`
	SubcategoryID sql.NullString `db:"subcategory_id"`
	Type          string         `db:"type"` // expense|income|transfer
	Amount        float64        `db:"amount"`
	Currency      string         `db:"currency"`
	OccurredAt    UnixTime       `db:"occurred_at"`
	Merchant      sql.NullString `db:"merchant"`
	Note          sql.NullString `db:"note"`
	Tags          sql.NullString `db:"tags"` // JSON array
	CreatedAt     UnixTime       `db:"created_at"`
	SyncMeta
}

// Budget is a monthly spending limit for one category.
// (category_id, month) is unique.
type Budget struct {
	ID         string   `db:"id"`
	CategoryID string   `db:"category_id"`
	Month      string   `db:"month"`
	Amount     float64  `db:"amount"`
	Consumed   float64  `db:"consumed"` // derived, recomputed after sync
	CreatedAt  UnixTime `db:"created_at"`
	SyncMeta
}

// RecurringRule describes an automatically generated transaction.
type RecurringRule struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	Amount       float64        `db:"amount"`
	Currency     string         `db:"currency"`
	CategoryID   sql.NullString `db:"category_id"`
	AccountID    string         `db:"account_id"`
	Frequency    string         `db:"frequency"` // daily|weekly|monthly
	StartDate    UnixTime       `db:"start_date"`
	EndDate      NullUnixTime   `db:"end_date"`
	AutoGenerate bool           `db:"auto_generate"`
	NextRun      NullUnixTime   `db:"next_run"`
	CreatedAt    UnixTime       `db:"created_at"`
	SyncMeta
}

// Alert is a user-facing notification (budget breach, anomaly, ...).
type Alert struct {
	ID          string          `db:"id"`
	AlertType   string          `db:"alert_type"`
	Severity    string          `db:"severity"`
	Title       string          `db:"title"`
	Message     sql.NullString  `db:"message"`
	CategoryID  sql.NullString  `db:"category_id"`
	Amount      sql.NullFloat64 `db:"amount"`
	IsRead      bool            `db:"is_read"`
	IsDismissed bool            `db:"is_dismissed"`
	CreatedAt   UnixTime        `db:"created_at"`
	SyncMeta
}

// SavingsGoal tracks progress toward a target amount. CurrentAmount is
// derived from linked transactions and recomputed after every sync run.
type SavingsGoal struct {
	ID            string       `db:"id"`
	Name          string       `db:"name"`
	TargetAmount  float64      `db:"target_amount"`
	CurrentAmount float64      `db:"current_amount"`
	Deadline      NullUnixTime `db:"deadline"`
	CreatedAt     UnixTime     `db:"created_at"`
	SyncMeta
}

// Account is a money account. Balance is derived (opening balance plus the
// signed sum of its transactions) and recomputed after every sync run.
type Account struct {
	ID             string   `db:"id"`
	Name           string   `db:"name"`
	Type           string   `db:"type"`
	Currency       string   `db:"currency"`
	OpeningBalance float64  `db:"opening_balance"`
	Balance        float64  `db:"balance"`
	CreatedAt      UnixTime `db:"created_at"`
	SyncMeta
}

// AppliedEvent is one row of the idempotency ledger.
type AppliedEvent struct {
	EventID   string   `db:"event_id"`
	AppliedAt UnixTime `db:"applied_at"`
}
