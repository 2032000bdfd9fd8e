package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Store    StoreConfig
	Ledger   LedgerConfig
	Formance FormanceConfig
	Market   MarketConfig
	Identity IdentityConfig
	Meter    MeterConfig
	Server   ServerConfig
	AMQP     AMQPConfig
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// StoreConfig selects the key-value backend ("sqlite" or "badger")
type StoreConfig struct {
	Backend   string
	BadgerDir string
}

// LedgerConfig holds ledger collaborator settings shared by every backend
type LedgerConfig struct {
	Backend        string // "formance" or "simulator"
	TokenId        string
	CallTimeout    time.Duration
	InitialFunding decimal.Decimal
	EscrowAccount  string
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	HTTPTimeout  time.Duration
}

// MarketConfig holds listing lifecycle settings
type MarketConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	EnergySources string
}

// IdentityConfig holds wallet provisioning settings
type IdentityConfig struct {
	ProvisionTimeout time.Duration
	PollInterval     time.Duration
}

// MeterConfig holds reading processor settings
type MeterConfig struct {
	BatchConcurrency int
}

// ServerConfig holds HTTP transport settings
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// AMQPConfig holds the reading consumer settings; an empty URL disables it
type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}
