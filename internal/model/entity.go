package model

import "strings"

type EntityType string

const (
	EntityTransaction EntityType = "transaction"
	EntityBudget      EntityType = "budget"
	EntityRecurring   EntityType = "recurring"
	EntityAlert       EntityType = "alert"
	EntitySavingsGoal EntityType = "savings_goal"
	EntityAccount     EntityType = "account"
)

func (t EntityType) String() string { return string(t) }

func (t EntityType) Valid() bool {
	switch t {
	case EntityTransaction, EntityBudget, EntityRecurring, EntityAlert, EntitySavingsGoal, EntityAccount:
		return true
	}
	return false
}

// prefix is the short form used in wire event type names, e.g. "txn_created".
func (t EntityType) prefix() string {
	switch t {
	case EntityTransaction:
		return "txn"
	case EntitySavingsGoal:
		return "goal"
	default:
		return string(t)
	}
}

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) String() string { return string(o) }

func (o Operation) Valid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// suffix is the past-tense form used in wire event type names.
func (o Operation) suffix() string {
	switch o {
	case OpCreate:
		return "created"
	case OpUpdate:
		return "updated"
	case OpDelete:
		return "deleted"
	default:
		return string(o)
	}
}

// EventTypeFor builds the wire event type for an entity/operation pair,
// e.g. (transaction, create) -> "txn_created".
func EventTypeFor(t EntityType, o Operation) string {
	return t.prefix() + "_" + o.suffix()
}

// ParseEventType splits a wire event type back into entity and operation.
// Returns false for anything outside the closed set.
func ParseEventType(s string) (EntityType, Operation, bool) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}

	var op Operation
	switch s[i+1:] {
	case "created":
		op = OpCreate
	case "updated":
		op = OpUpdate
	case "deleted":
		op = OpDelete
	default:
		return "", "", false
	}

	var et EntityType
	switch s[:i] {
	case "txn":
		et = EntityTransaction
	case "budget":
		et = EntityBudget
	case "recurring":
		et = EntityRecurring
	case "alert":
		et = EntityAlert
	case "goal":
		et = EntitySavingsGoal
	case "account":
		et = EntityAccount
	default:
		return "", "", false
	}

	return et, op, true
}
