package main

import (
	"context"
	"flag"
	"fmt"
	"regexp"
	"strings"

	"energy-ledger-go/internal/common"
	"energy-ledger-go/internal/config"
	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/models"

	"go.uber.org/zap"
)

var walletRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{3,128}$`)

func validateWallet(wallet string) error {
	if wallet == "" {
		return fmt.Errorf("wallet cannot be empty")
	}
	if !walletRegex.MatchString(wallet) {
		return fmt.Errorf("invalid wallet address format: %s", wallet)
	}
	return nil
}

func printMapping(mapping *models.WalletAccountMapping, profile *models.UserProfile) {
	common.PrintHeader("WALLET PROVISIONED", common.DefaultWidth)
	fmt.Printf("Wallet:           %s\n", mapping.WalletAddress)
	fmt.Printf("Ledger account:   %s\n", mapping.LedgerAccountId)
	fmt.Printf("Token associated: %t\n", mapping.TokenAssociated)
	fmt.Printf("Created:          %s\n", mapping.CreatedAt.Format("2006-01-02 15:04:05"))
	if profile != nil {
		fmt.Printf("Display name:     %s\n", profile.DisplayName)
		fmt.Printf("Roles:            producer=%t consumer=%t\n", profile.IsProducer, profile.IsConsumer)
	}
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	walletFlag := flag.String("wallet", "", "Wallet address to provision (required)")
	nameFlag := flag.String("name", "", "Display name for the profile (optional)")
	locationFlag := flag.String("location", "", "Location for the profile (optional)")
	producerFlag := flag.Bool("producer", false, "Mark the account as a producer")
	consumerFlag := flag.Bool("consumer", false, "Mark the account as a consumer")
	flag.Parse()

	wallet := strings.TrimSpace(*walletFlag)
	if err := validateWallet(wallet); err != nil {
		logger.Fatal("Invalid wallet", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	accountId, err := services.Bridge.ResolveOrCreateAccount(ctx, wallet)
	if err != nil {
		logger.Fatal("Failed to provision wallet", zap.String("wallet", wallet), zap.Error(err))
	}
	mapping, err := services.Bridge.GetMapping(ctx, wallet)
	if err != nil {
		logger.Fatal("Failed to load wallet mapping", zap.String("wallet", wallet), zap.Error(err))
	}

	var profile *models.UserProfile
	if *nameFlag != "" {
		profile, err = services.Market.RegisterProfile(ctx, market.ProfileParams{
			AccountId:   accountId,
			DisplayName: *nameFlag,
			Location:    *locationFlag,
			IsProducer:  *producerFlag,
			IsConsumer:  *consumerFlag,
		})
		if err != nil {
			logger.Fatal("Failed to register profile", zap.String("account_id", accountId), zap.Error(err))
		}
	}

	printMapping(mapping, profile)
	logger.Info("Wallet provisioned",
		zap.String("wallet", wallet),
		zap.String("account_id", accountId),
		zap.Bool("token_associated", mapping.TokenAssociated))
}
