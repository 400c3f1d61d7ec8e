package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Engine holds the fee and collateral parameters the config surface is
// seeded with. All fee values are basis points, capped at 100 (1%) by
// the engine at construction.
type Engine struct {
	AdminAddress    string
	FeeRecipient    string
	EscrowFeeBps    int64
	TakerFeeBps     int64
	MakerFeeBps     int64
	MarketBufferBps int64 // buffer over best observable price for market-buy locks
}

// Node holds daemon-level settings.
type Node struct {
	DataDir string
	APIAddr string
	// SequenceInterval is the cadence at which the daemon advances the
	// engine's sequence marker (the block-height analog all deadlines
	// and expiries are evaluated against).
	SequenceInterval time.Duration
	LogLevel         string
	LogFile          string
}

// Index holds the optional off-chain order mirror settings. An empty
// RedisAddr disables the mirror.
type Index struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type Config struct {
	Engine Engine
	Node   Node
	Index  Index
}

func Default() Config {
	return Config{
		Engine: Engine{
			EscrowFeeBps:    30,
			TakerFeeBps:     20,
			MakerFeeBps:     10,
			MarketBufferBps: 500,
		},
		Node: Node{
			DataDir:          "./data",
			APIAddr:          ":8080",
			SequenceInterval: 500 * time.Millisecond,
			LogLevel:         "info",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DP_ADMIN_ADDRESS"); v != "" {
		cfg.Engine.AdminAddress = v
	}
	if v := os.Getenv("DP_FEE_RECIPIENT"); v != "" {
		cfg.Engine.FeeRecipient = v
	}
	if v := os.Getenv("DP_ESCROW_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.EscrowFeeBps = bps
		}
	}
	if v := os.Getenv("DP_TAKER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.TakerFeeBps = bps
		}
	}
	if v := os.Getenv("DP_MAKER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MakerFeeBps = bps
		}
	}
	if v := os.Getenv("DP_MARKET_BUFFER_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MarketBufferBps = bps
		}
	}

	if v := os.Getenv("DP_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("DP_API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("DP_SEQUENCE_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.SequenceInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DP_LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = v
	}
	if v := os.Getenv("DP_LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	if v := os.Getenv("DP_REDIS_ADDR"); v != "" {
		cfg.Index.RedisAddr = v
	}
	if v := os.Getenv("DP_REDIS_PASSWORD"); v != "" {
		cfg.Index.RedisPassword = v
	}
	if v := os.Getenv("DP_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Index.RedisDB = db
		}
	}

	return cfg
}
