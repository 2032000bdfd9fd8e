package store

// Key layout. Entities are JSON documents; indexes are sets of entity ids.
const (
	SetMintRecords    = "records:mint"
	SetBurnRecords    = "records:burn"
	SetActiveListings = "listings:active"
	SetAllListings    = "listings:all"
	SetAllTrades      = "trades:all"
	SetProfiles       = "profiles"
	SetWallets        = "wallets"
)

func WalletKey(wallet string) string          { return "wallet:" + wallet }
func WatermarkKey(meterId string) string      { return "watermark:" + meterId }
func RecordKey(id string) string              { return "record:" + id }
func ListingKey(id string) string             { return "listing:" + id }
func TradeKey(id string) string               { return "trade:" + id }
func AssociationKey(accountId string) string  { return "assoc:" + accountId }
func ProfileKey(accountId string) string      { return "profile:" + accountId }
func AccountMintsSet(accountId string) string { return "account:" + accountId + ":mints" }
func AccountBurnsSet(accountId string) string { return "account:" + accountId + ":burns" }
func UserListingsSet(accountId string) string { return "user:" + accountId + ":listings" }
func UserTradesSet(accountId string) string   { return "user:" + accountId + ":trades" }
