package model

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

const SchemaVersion = 1

// Free-text and list caps on event payloads. The remote log stores events
// verbatim, so the bounds are enforced on both encode and decode.
const (
	MaxNoteLen    = 500
	MaxNameLen    = 255
	MaxTags       = 10
	MaxTagLen     = 50
	MaxMessageLen = 1000
)

// RemoteEvent is an immutable fact appended to the remote log by any device.
// CreatedAt is server-assigned and authoritative for ordering; devices never
// self-stamp it.
type RemoteEvent struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	EntityID       string          `json:"entityId"`
	OriginDeviceID string          `json:"originDeviceId"`
	SchemaVersion  int             `json:"schemaVersion"`
	CreatedAt      time.Time       `json:"createdAt"`
	Payload        json.RawMessage `json:"payload"`
}

// TransactionPayload carries the replicated fields of a transaction.
type TransactionPayload struct {
	AccountID     string    `json:"account_id"`
	CategoryID    string    `json:"category_id,omitempty"`
	SubcategoryID string    `json:"subcategory_id,omitempty"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
	Merchant      string    `json:"merchant,omitempty"`
	Note          string    `json:"note,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
}

func (p TransactionPayload) Validate() error {
	if utf8.RuneCountInString(p.Note) > MaxNoteLen {
		return fmt.Errorf("note exceeds %d chars", MaxNoteLen)
	}
	if utf8.RuneCountInString(p.Merchant) > MaxNameLen {
		return fmt.Errorf("merchant exceeds %d chars", MaxNameLen)
	}
	if len(p.Tags) > MaxTags {
		return fmt.Errorf("too many tags: %d > %d", len(p.Tags), MaxTags)
	}
	for _, tag := range p.Tags {
		if utf8.RuneCountInString(tag) > MaxTagLen {
			return fmt.Errorf("tag %q exceeds %d chars", tag, MaxTagLen)
		}
	}
	return nil
}

// BudgetPayload carries the replicated fields of a monthly budget.
type BudgetPayload struct {
	CategoryID string  `json:"category_id"`
	Month      string  `json:"month"` // "2026-08"
	Amount     float64 `json:"amount"`
}

func (p BudgetPayload) Validate() error {
	if p.Month == "" {
		return fmt.Errorf("budget month is required")
	}
	return nil
}

// RecurringPayload carries the replicated fields of a recurring rule.
type RecurringPayload struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Amount       float64    `json:"amount"`
	Currency     string     `json:"currency"`
	CategoryID   string     `json:"category_id,omitempty"`
	AccountID    string     `json:"account_id"`
	Frequency    string     `json:"frequency"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	AutoGenerate bool       `json:"auto_generate"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

func (p RecurringPayload) Validate() error {
	if utf8.RuneCountInString(p.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d chars", MaxNameLen)
	}
	return nil
}

// AlertPayload carries the replicated fields of an alert.
type AlertPayload struct {
	AlertType   string   `json:"alert_type"`
	Severity    string   `json:"severity"`
	Title       string   `json:"title"`
	Message     string   `json:"message,omitempty"`
	CategoryID  string   `json:"category_id,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	IsRead      bool     `json:"is_read"`
	IsDismissed bool     `json:"is_dismissed"`
}

func (p AlertPayload) Validate() error {
	if utf8.RuneCountInString(p.Title) > MaxNameLen {
		return fmt.Errorf("title exceeds %d chars", MaxNameLen)
	}
	if utf8.RuneCountInString(p.Message) > MaxMessageLen {
		return fmt.Errorf("message exceeds %d chars", MaxMessageLen)
	}
	return nil
}

// SavingsGoalPayload carries the base fields of a savings goal. Progress is
// derived locally and never travels on the wire.
type SavingsGoalPayload struct {
	Name         string     `json:"name"`
	TargetAmount float64    `json:"target_amount"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

func (p SavingsGoalPayload) Validate() error {
	if utf8.RuneCountInString(p.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d chars", MaxNameLen)
	}
	return nil
}

// AccountPayload carries the base fields of an account. The running balance
// is derived locally from opening_balance plus transactions.
type AccountPayload struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Currency       string  `json:"currency"`
	OpeningBalance float64 `json:"opening_balance"`
}

func (p AccountPayload) Validate() error {
	if utf8.RuneCountInString(p.Name) > MaxNameLen {
		return fmt.Errorf("name exceeds %d chars", MaxNameLen)
	}
	return nil
}
