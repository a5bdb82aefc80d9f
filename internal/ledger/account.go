package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AccountType classifies an account into one of the five bookkeeping buckets.
// The type fixes which side (debit or credit) increases the account's balance.
type AccountType string

const (
	TypeAsset     AccountType = "asset"
	TypeLiability AccountType = "liability"
	TypeEquity    AccountType = "equity"
	TypeIncome    AccountType = "income"
	TypeExpense   AccountType = "expense"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case TypeAsset, TypeLiability, TypeEquity, TypeIncome, TypeExpense:
		return true
	default:
		return false
	}
}

// DebitNormal reports whether a debit increases this account's balance.
func (t AccountType) DebitNormal() bool {
	return t == TypeAsset || t == TypeExpense
}

// Names of the system accounts the ledger creates lazily per owner.
const (
	ProcessingAccountName  = "Transfer Clearing"
	TransferFeeAccountName = "Transfer Fees"
)

// Account is a classification bucket journal lines post against.
// System accounts (the transfer clearing account, the fee account) may only
// be written by system-sourced entries; PostEntry enforces that.
type Account struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Name     string
	Type     AccountType
	Currency string
	Code     string
	ParentID *uuid.UUID
	System   bool
	Active   bool

	CreatedAt time.Time
	UpdatedAt *time.Time
}
