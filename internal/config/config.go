package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mtlprog/dcastat/internal/domain"
)

const defaultTrackedTokens = "SOL:So11111111111111111111111111111111111111112:9," +
	"JUP:JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN:6"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	SolanaRPCURL      string
	DCAProgramID      string
	RPCRetryMax       int
	RPCRetryBaseDelay time.Duration
	RPCRateLimit      float64
	RPCTimeout        time.Duration

	PriceAPIURL     string
	PriceRetryMax   int
	PriceRetryDelay time.Duration
	PriceRateLimit  float64
	PriceCacheTTL   time.Duration

	QuoteToken    domain.Token
	TrackedTokens []domain.Token

	PollInterval  time.Duration
	RetryDelay    time.Duration
	RetryMax      int
	FetchTimeout  time.Duration
	HistoryLimit  int
	LookupWorkers int
	LookupTimeout time.Duration

	HTTPPort    string
	AdminAPIKey string
}

// Registry builds the token registry from the configured tokens.
func (c Config) Registry() *domain.Registry {
	return domain.NewRegistry(c.QuoteToken, c.TrackedTokens)
}

// LoadDotEnv loads variables from path into the environment without overriding ones that are
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		SolanaRPCURL:      envOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		DCAProgramID:      envOrDefault("DCA_PROGRAM_ID", "DCA265Vj8a9CEuX1eb1LWRnDT7uK6q1xMipnNyatn23M"),
		RPCRetryMax:       envOrDefaultInt("RPC_RETRY_MAX", 3),
		RPCRetryBaseDelay: envOrDefaultDuration("RPC_RETRY_BASE_DELAY", 1*time.Second),
		RPCRateLimit:      envOrDefaultFloat("RPC_RATE_LIMIT", 8),
		RPCTimeout:        envOrDefaultDuration("RPC_TIMEOUT", 30*time.Second),

		PriceAPIURL:     envOrDefault("PRICE_API_URL", "https://api.jup.ag/price/v2"),
		PriceRetryMax:   envOrDefaultInt("PRICE_RETRY_MAX", 3),
		PriceRetryDelay: envOrDefaultDuration("PRICE_RETRY_DELAY", 1*time.Second),
		PriceRateLimit:  envOrDefaultFloat("PRICE_RATE_LIMIT", 2),
		PriceCacheTTL:   envOrDefaultDuration("PRICE_CACHE_TTL", 10*time.Second),

		QuoteToken:    envOrDefaultToken("QUOTE_TOKEN", domain.USDCToken()),
		TrackedTokens: envOrDefaultTokens("TRACKED_TOKENS", defaultTrackedTokens),

		PollInterval:  envOrDefaultDuration("POLL_INTERVAL", 5*time.Second),
		RetryDelay:    envOrDefaultDuration("RETRY_DELAY", 3*time.Second),
		RetryMax:      envOrDefaultInt("RETRY_MAX", 3),
		FetchTimeout:  envOrDefaultDuration("FETCH_TIMEOUT", 60*time.Second),
		HistoryLimit:  envOrDefaultInt("HISTORY_LIMIT", 720),
		LookupWorkers: envOrDefaultInt("LOOKUP_WORKERS", 8),
		LookupTimeout: envOrDefaultDuration("LOOKUP_TIMEOUT", 20*time.Second),

		HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid number env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return f
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envOrDefaultToken(key string, defaultVal domain.Token) domain.Token {
	if v := os.Getenv(key); v != "" {
		t, err := domain.ParseToken(v)
		if err != nil {
			slog.Warn("invalid token env var, using default", "key", key, "value", v, "error", err)
			return defaultVal
		}
		return t
	}
	return defaultVal
}

// envOrDefaultTokens parses a comma-separated token list, skipping invalid entries.
func envOrDefaultTokens(key, defaultVal string) []domain.Token {
	var tokens []domain.Token
	for _, entry := range strings.Split(envOrDefault(key, defaultVal), ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		t, err := domain.ParseToken(entry)
		if err != nil {
			slog.Warn("invalid token entry, skipping", "key", key, "entry", entry, "error", err)
			continue
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		slog.Warn("no tracked tokens configured", "key", key)
	}
	return tokens
}
