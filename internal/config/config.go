package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig is built once at startup and passed explicitly to every component.
type AppConfig struct {
	Chain     ChainConfig
	Service   ServiceConfig
	Purchase  PurchaseConfig
	Ledger    LedgerConfig
	KeepAlive KeepAliveConfig
	LogLevel  string
}

type ChainConfig struct {
	RPCURL             string
	PrivateKey         string
	StablecoinContract common.Address
	TokenContract      common.Address
	AdminAddress       common.Address
	// ReceiverAddress receives buyer payments; defaults to AdminAddress.
	ReceiverAddress common.Address
	NetworkName     string
	RPCTimeout      time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
}

type ServiceConfig struct {
	HTTPPort        int
	AllowedOrigins  []string
	RateLimit       float64
	RateBurst       int
	AdminHMACSecret string
	HMACClockSkew   time.Duration
	DLQPath         string
	InfoPageURL     string
}

type PurchaseConfig struct {
	RequireProof     bool
	VerifyPaidAmount bool
}

type LedgerConfig struct {
	Backend     string
	Path        string
	PostgresDSN string
	RedisURL    string
}

type KeepAliveConfig struct {
	URL      string
	Interval time.Duration
}

const (
	LedgerMemory   = "memory"
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

var privateKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Load reads an optional dotenv file, then the process environment.
func Load(envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 3000)
	v.SetDefault("NETWORK_NAME", "BSC Mainnet")
	v.SetDefault("RPC_TIMEOUT", 10*time.Second)
	v.SetDefault("CONFIRM_TIMEOUT", 2*time.Minute)
	v.SetDefault("POLL_INTERVAL", 2*time.Second)
	v.SetDefault("RPC_MAX_RETRIES", 3)
	v.SetDefault("RPC_RETRY_BACKOFF", 500*time.Millisecond)
	v.SetDefault("REQUIRE_PROOF", true)
	v.SetDefault("VERIFY_PAID_AMOUNT", false)
	v.SetDefault("LEDGER_BACKEND", LedgerFile)
	v.SetDefault("LEDGER_PATH", "./data/ledger.json")
	v.SetDefault("DLQ_PATH", "./data/reconcile")
	v.SetDefault("HMAC_CLOCK_SKEW", time.Minute)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("PURCHASE_RATE_LIMIT", 5.0)
	v.SetDefault("PURCHASE_RATE_BURST", 10)
	v.SetDefault("KEEPALIVE_INTERVAL", 14*time.Minute)
	v.SetDefault("LOG_LEVEL", "info")
	return v
}

// FromViper builds and validates the configuration from v.
func FromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Chain: ChainConfig{
			RPCURL:         strings.TrimSpace(v.GetString("RPC_URL")),
			PrivateKey:     strings.TrimPrefix(strings.TrimSpace(v.GetString("ADMIN_PRIVATE_KEY")), "0x"),
			NetworkName:    v.GetString("NETWORK_NAME"),
			RPCTimeout:     v.GetDuration("RPC_TIMEOUT"),
			ConfirmTimeout: v.GetDuration("CONFIRM_TIMEOUT"),
			PollInterval:   v.GetDuration("POLL_INTERVAL"),
			MaxRetries:     v.GetInt("RPC_MAX_RETRIES"),
			RetryBackoff:   v.GetDuration("RPC_RETRY_BACKOFF"),
		},
		Service: ServiceConfig{
			HTTPPort:        v.GetInt("PORT"),
			AllowedOrigins:  splitAndClean(v.GetString("ALLOWED_ORIGINS")),
			RateLimit:       v.GetFloat64("PURCHASE_RATE_LIMIT"),
			RateBurst:       v.GetInt("PURCHASE_RATE_BURST"),
			AdminHMACSecret: v.GetString("ADMIN_HMAC_SECRET"),
			HMACClockSkew:   v.GetDuration("HMAC_CLOCK_SKEW"),
			DLQPath:         v.GetString("DLQ_PATH"),
			InfoPageURL:     v.GetString("INFO_PAGE_URL"),
		},
		Purchase: PurchaseConfig{
			RequireProof:     v.GetBool("REQUIRE_PROOF"),
			VerifyPaidAmount: v.GetBool("VERIFY_PAID_AMOUNT"),
		},
		Ledger: LedgerConfig{
			Backend:     strings.ToLower(v.GetString("LEDGER_BACKEND")),
			Path:        v.GetString("LEDGER_PATH"),
			PostgresDSN: v.GetString("DATABASE_URL"),
			RedisURL:    v.GetString("REDIS_URL"),
		},
		KeepAlive: KeepAliveConfig{
			URL:      v.GetString("KEEPALIVE_URL"),
			Interval: v.GetDuration("KEEPALIVE_INTERVAL"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if cfg.Chain.RPCURL == "" {
		return nil, errors.New("RPC_URL is required")
	}
	if !privateKeyPattern.MatchString(cfg.Chain.PrivateKey) {
		return nil, errors.New("ADMIN_PRIVATE_KEY must be exactly 64 hex characters")
	}
	key, err := crypto.HexToECDSA(cfg.Chain.PrivateKey)
	if err != nil {
		return nil, errors.New("ADMIN_PRIVATE_KEY is not a valid secp256k1 key")
	}
	cfg.Chain.AdminAddress = crypto.PubkeyToAddress(key.PublicKey)

	if cfg.Chain.StablecoinContract, err = requireAddress(v, "USDT_CONTRACT"); err != nil {
		return nil, err
	}
	if cfg.Chain.TokenContract, err = requireAddress(v, "MZLX_CONTRACT"); err != nil {
		return nil, err
	}

	cfg.Chain.ReceiverAddress = cfg.Chain.AdminAddress
	if raw := strings.TrimSpace(v.GetString("RECEIVER_ADDRESS")); raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, errors.New("RECEIVER_ADDRESS is not a valid address")
		}
		cfg.Chain.ReceiverAddress = common.HexToAddress(raw)
	}

	if cfg.Service.HTTPPort <= 0 || cfg.Service.HTTPPort > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Service.HTTPPort)
	}

	switch cfg.Ledger.Backend {
	case LedgerMemory:
	case LedgerFile:
		if cfg.Ledger.Path == "" {
			return nil, errors.New("LEDGER_PATH is required for the file ledger")
		}
	case LedgerPostgres:
		if cfg.Ledger.PostgresDSN == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres ledger")
		}
	case LedgerRedis:
		if cfg.Ledger.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis ledger")
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.Ledger.Backend)
	}

	return cfg, nil
}

func requireAddress(v *viper.Viper, key string) (common.Address, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s is not a valid address", key)
	}
	return common.HexToAddress(raw), nil
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, item := range parts {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
