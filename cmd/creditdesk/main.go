package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/internal/dashboardapi"
	"github.com/MarkoPoloResearchLab/creditdesk/internal/events/kafkapub"
	"github.com/MarkoPoloResearchLab/creditdesk/internal/receipts"
	"github.com/MarkoPoloResearchLab/creditdesk/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/creditdesk/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	"github.com/MarkoPoloResearchLab/creditdesk/pkg/kashier"
	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagListenAddr  = "listen-addr"
	flagDatabaseURL = "database-url"
	flagSeedDemo    = "seed-demo"

	configKeyListenAddr     = "listen_addr"
	configKeyDatabaseURL    = "database_url"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyMerchantID     = "kashier_merchant_id"
	configKeyPaymentAPIKey  = "kashier_payment_api_key"
	configKeyLegacyAPIKey   = "kashier_api_key"
	configKeyMode           = "kashier_mode"
	configKeyCurrency       = "kashier_currency"
	configKeyReturnURL      = "kashier_return_url"
	configKeyWebhookURL     = "kashier_webhook_url"
	configKeySessionKey     = "session_signing_key"
	configKeyKafkaBrokers   = "kafka_brokers"
	configKeyKafkaTopic     = "kafka_topic"
	configKeySupabaseURL    = "supabase_url"
	configKeySupabaseKey    = "supabase_service_key"
	configKeySupabaseBucket = "supabase_bucket"
	configKeyOpeningBalance = "opening_balance"
	configKeyReserved       = "reserved"
	configKeyCreditLimit    = "credit_limit"
	configKeyPromoReward    = "promo_reward"

	defaultListenAddr = ":8080"
)

type runtimeConfig struct {
	ListenAddr     string
	DatabaseURL    string
	AllowedOrigins string
	SeedDemo       bool

	MerchantID    string
	PaymentAPIKey string
	Mode          string
	Currency      string
	ReturnURL     string
	WebhookURL    string

	SessionSigningKey string

	KafkaBrokers string
	KafkaTopic   string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	OpeningBalance string
	Reserved       string
	CreditLimit    string
	PromoReward    string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditdesk: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditdesk",
		Short:         "Credit dashboard API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, "", "PostgreSQL or sqlite connection string; in-memory ledger only when empty")
	cmd.Flags().Bool(flagSeedDemo, false, "seed the ledger with demo entries")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	// Best-effort local development overrides.
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyMerchantID:     "KASHIER_MERCHANT_ID",
		configKeyPaymentAPIKey:  "KASHIER_PAYMENT_API_KEY",
		configKeyLegacyAPIKey:   "KASHIER_API_KEY",
		configKeyMode:           "KASHIER_MODE",
		configKeyCurrency:       "KASHIER_CURRENCY",
		configKeyReturnURL:      "KASHIER_RETURN_URL",
		configKeyWebhookURL:     "KASHIER_WEBHOOK_URL",
		configKeySessionKey:     "SESSION_SIGNING_KEY",
		configKeyKafkaBrokers:   "KAFKA_BROKERS",
		configKeyKafkaTopic:     "KAFKA_TOPIC",
		configKeySupabaseURL:    "SUPABASE_URL",
		configKeySupabaseKey:    "SUPABASE_SERVICE_KEY",
		configKeySupabaseBucket: "SUPABASE_BUCKET",
		configKeyOpeningBalance: "OPENING_BALANCE",
		configKeyReserved:       "RESERVED_AMOUNT",
		configKeyCreditLimit:    "CREDIT_LIMIT",
		configKeyPromoReward:    "PROMO_REWARD",
	}
	for key, envName := range envBindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}

	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.MerchantID = viper.GetString(configKeyMerchantID)
	cfg.PaymentAPIKey = viper.GetString(configKeyPaymentAPIKey)
	if cfg.PaymentAPIKey == "" {
		// Older deployments exported the key under KASHIER_API_KEY.
		cfg.PaymentAPIKey = viper.GetString(configKeyLegacyAPIKey)
	}
	cfg.Mode = viper.GetString(configKeyMode)
	cfg.Currency = viper.GetString(configKeyCurrency)
	cfg.ReturnURL = viper.GetString(configKeyReturnURL)
	cfg.WebhookURL = viper.GetString(configKeyWebhookURL)
	cfg.SessionSigningKey = viper.GetString(configKeySessionKey)
	cfg.KafkaBrokers = viper.GetString(configKeyKafkaBrokers)
	cfg.KafkaTopic = viper.GetString(configKeyKafkaTopic)
	cfg.SupabaseURL = viper.GetString(configKeySupabaseURL)
	cfg.SupabaseKey = viper.GetString(configKeySupabaseKey)
	cfg.SupabaseBucket = viper.GetString(configKeySupabaseBucket)
	cfg.OpeningBalance = viper.GetString(configKeyOpeningBalance)
	cfg.Reserved = viper.GetString(configKeyReserved)
	cfg.CreditLimit = viper.GetString(configKeyCreditLimit)
	cfg.PromoReward = viper.GetString(configKeyPromoReward)

	seedDemo, err := cmd.Flags().GetBool(flagSeedDemo)
	if err != nil {
		return err
	}
	cfg.SeedDemo = seedDemo

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	account, promoReward, err := accountPosture(cfg)
	if err != nil {
		return err
	}

	serviceOptions := []creditledger.ServiceOption{
		creditledger.WithOperationLogger(dashboardapi.NewZapOperationLogger(logger)),
		creditledger.WithPromoReward(promoReward),
		creditledger.WithCheckout(creditledger.CheckoutConfig{
			Secrets:    dashboardSecrets(cfg),
			ReturnURL:  cfg.ReturnURL,
			WebhookURL: cfg.WebhookURL,
		}),
	}

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer func() { _ = cleanup() }()
	serviceOptions = append(serviceOptions, creditledger.WithStore(store))

	if cfg.KafkaBrokers != "" {
		publisher := kafkapub.New(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		defer func() { _ = publisher.Close() }()
		serviceOptions = append(serviceOptions, creditledger.WithEntryPublisher(publisher))
	}

	service, err := creditledger.NewService(account, func() time.Time { return time.Now().UTC() }, serviceOptions...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	if cfg.SeedDemo {
		service.ReplaceEntries(creditledger.DemoEntries(time.Now().UTC()))
	}
	if err := service.LoadFromStore(ctx); err != nil {
		logger.Warn("ledger history load failed", zap.Error(err))
	}

	serverOptions := []dashboardapi.ServerOption{}
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		bucket := cfg.SupabaseBucket
		if bucket == "" {
			bucket = "receipts"
		}
		uploader, uploaderErr := receipts.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, bucket)
		if uploaderErr != nil {
			return fmt.Errorf("receipt storage init: %w", uploaderErr)
		}
		serverOptions = append(serverOptions, dashboardapi.WithUploader(uploader))
	}

	server, err := dashboardapi.NewServer(dashboardapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    dashboardapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		MerchantID:        cfg.MerchantID,
		PaymentAPIKey:     cfg.PaymentAPIKey,
		Mode:              cfg.Mode,
		Currency:          cfg.Currency,
		ReturnURL:         cfg.ReturnURL,
		WebhookURL:        cfg.WebhookURL,
		SessionSigningKey: cfg.SessionSigningKey,
	}, logger, service, serverOptions...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	return server.Run(ctx)
}

func dashboardSecrets(cfg *runtimeConfig) kashier.Secrets {
	return kashier.Secrets{
		MerchantID:    cfg.MerchantID,
		PaymentAPIKey: cfg.PaymentAPIKey,
		Mode:          cfg.Mode,
		Currency:      cfg.Currency,
	}
}

// accountPosture resolves the opening balance, reserved amount, credit
// limit and promo reward from configuration, with dashboard defaults.
func accountPosture(cfg *runtimeConfig) (creditledger.Account, decimal.Decimal, error) {
	balance, err := decimalOrDefault(cfg.OpeningBalance, "250")
	if err != nil {
		return creditledger.Account{}, decimal.Decimal{}, fmt.Errorf("opening balance: %w", err)
	}
	reserved, err := decimalOrDefault(cfg.Reserved, "30")
	if err != nil {
		return creditledger.Account{}, decimal.Decimal{}, fmt.Errorf("reserved amount: %w", err)
	}
	limit, err := decimalOrDefault(cfg.CreditLimit, "500")
	if err != nil {
		return creditledger.Account{}, decimal.Decimal{}, fmt.Errorf("credit limit: %w", err)
	}
	promoReward, err := decimalOrDefault(cfg.PromoReward, "10")
	if err != nil {
		return creditledger.Account{}, decimal.Decimal{}, fmt.Errorf("promo reward: %w", err)
	}
	account := creditledger.Account{Balance: balance, Reserved: reserved}
	if limit.Sign() > 0 {
		account.CreditLimit = &limit
	}
	return account, promoReward, nil
}

func decimalOrDefault(raw string, fallback string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	return decimal.NewFromString(raw)
}

// openStore returns the persistence mirror: an in-memory store without a
// database URL, otherwise a gorm-backed one.
func openStore(ctx context.Context, databaseURL string) (creditledger.Store, func() error, error) {
	if databaseURL == "" {
		return memstore.New(), func() error { return nil }, nil
	}
	gormDB, cleanup, driver, err := openDatabase(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if driver == "sqlite" {
		if err := gormstore.Migrate(gormDB); err != nil {
			_ = cleanup()
			return nil, nil, err
		}
	}
	return gormstore.New(gormDB), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "creditdesk.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
