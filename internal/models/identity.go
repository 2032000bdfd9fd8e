package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccountMapping binds a wallet address to its ledger account.
// A mapping with Pending set is a provisioning reservation, not yet usable.
type WalletAccountMapping struct {
	WalletAddress      string    `json:"wallet_address"`
	LedgerAccountId    string    `json:"ledger_account_id,omitempty"`
	CredentialMaterial string    `json:"credential_material,omitempty"`
	TokenAssociated    bool      `json:"token_associated"`
	Pending            bool      `json:"pending,omitempty"`
	ClaimId            string    `json:"claim_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type UserProfile struct {
	AccountId         string          `json:"account_id"`
	DisplayName       string          `json:"display_name"`
	Location          string          `json:"location,omitempty"`
	IsProducer        bool            `json:"is_producer"`
	IsConsumer        bool            `json:"is_consumer"`
	TotalProduction   decimal.Decimal `json:"total_production"`
	TotalConsumption  decimal.Decimal `json:"total_consumption"`
	TotalEnergySold   decimal.Decimal `json:"total_energy_sold"`
	TotalEnergyBought decimal.Decimal `json:"total_energy_bought"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	TradeCount        int             `json:"trade_count"`
	Reputation        decimal.Decimal `json:"reputation"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
