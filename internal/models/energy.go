package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MeterType string

const (
	MeterTypeProduction  MeterType = "production"
	MeterTypeConsumption MeterType = "consumption"
)

// MeterReading is a verified energy measurement submitted by the metering collaborator.
type MeterReading struct {
	MeterId            string          `json:"meter_id"`
	AccountId          string          `json:"account_id"`
	MeterType          MeterType       `json:"meter_type"`
	EnergyAmount       decimal.Decimal `json:"energy_amount"`
	EnergySource       string          `json:"energy_source"`
	Timestamp          time.Time       `json:"timestamp"`
	Verified           bool            `json:"verified"`
	VerificationSource string          `json:"verification_source,omitempty"`
}

type RecordKind string

const (
	RecordKindMint RecordKind = "mint"
	RecordKindBurn RecordKind = "burn"
)

// LedgerRecord is the append-only trace of one mint or burn.
type LedgerRecord struct {
	Id                  string          `json:"id"`
	Kind                RecordKind      `json:"kind"`
	AccountId           string          `json:"account_id"`
	EnergyAmount        decimal.Decimal `json:"energy_amount"`
	TokenAmount         decimal.Decimal `json:"token_amount"`
	MeterId             string          `json:"meter_id"`
	EnergySource        string          `json:"energy_source,omitempty"`
	LedgerTransactionId string          `json:"ledger_transaction_id,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
	SourceReadingRef    string          `json:"source_reading_ref"`
}

type ReadingAction string

const (
	ActionMint ReadingAction = "mint"
	ActionBurn ReadingAction = "burn"
	ActionNone ReadingAction = "none"
)

// ProcessResult is the outcome of processing one reading.
type ProcessResult struct {
	Action ReadingAction `json:"action"`
	Record *LedgerRecord `json:"record,omitempty"`
}

// BatchItemResult reports one reading of a batch.
type BatchItemResult struct {
	Index     int            `json:"index"`
	MeterId   string         `json:"meter_id"`
	Success   bool           `json:"success"`
	Result    *ProcessResult `json:"result,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Err       error          `json:"-"`
}

// EnergyStats aggregates mint and burn records.
type EnergyStats struct {
	TotalMinted decimal.Decimal `json:"total_minted"`
	TotalBurned decimal.Decimal `json:"total_burned"`
	NetBalance  decimal.Decimal `json:"net_balance"`
	MintCount   int             `json:"mint_count"`
	BurnCount   int             `json:"burn_count"`
}
