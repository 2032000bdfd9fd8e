package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingState string

const (
	ListingActive    ListingState = "active"
	ListingExpired   ListingState = "expired"
	ListingCancelled ListingState = "cancelled"
	ListingFulfilled ListingState = "fulfilled"
)

// Terminal reports whether no transition leaves s.
func (s ListingState) Terminal() bool {
	return s != ListingActive
}

type Listing struct {
	Id           string          `json:"id"`
	SellerId     string          `json:"seller_id"`
	EnergyAmount decimal.Decimal `json:"energy_amount"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Location     string          `json:"location,omitempty"`
	EnergySource string          `json:"energy_source"`
	State        ListingState    `json:"state"`
	TradeId      string          `json:"trade_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type TradeState string

const (
	TradePending   TradeState = "pending"
	TradeCompleted TradeState = "completed"
	TradeFailed    TradeState = "failed"
)

func (s TradeState) Terminal() bool {
	return s == TradeCompleted || s == TradeFailed
}

type Trade struct {
	Id                  string          `json:"id"`
	ListingId           string          `json:"listing_id"`
	BuyerId             string          `json:"buyer_id"`
	SellerId            string          `json:"seller_id"`
	EnergyAmount        decimal.Decimal `json:"energy_amount"`
	PricePerUnit        decimal.Decimal `json:"price_per_unit"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	EnergySource        string          `json:"energy_source,omitempty"`
	LedgerTransactionId string          `json:"ledger_transaction_id,omitempty"`
	State               TradeState      `json:"state"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// TradingStats is the market-wide read model.
type TradingStats struct {
	ActiveListings   int             `json:"active_listings"`
	TotalListings    int             `json:"total_listings"`
	TotalTrades      int             `json:"total_trades"`
	CompletedTrades  int             `json:"completed_trades"`
	FailedTrades     int             `json:"failed_trades"`
	TotalEnergyTrade decimal.Decimal `json:"total_energy_traded"`
	TotalVolume      decimal.Decimal `json:"total_volume"`
	AveragePrice     decimal.Decimal `json:"average_price"`
}
