package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	// DataDir holds the Pebble database. Empty runs the node in memory.
	DataDir     string
	GenesisPath string
	// BlockTime is the sequencer tick. Empty blocks are not produced.
	BlockTime     time.Duration
	MaxBlockBytes int64
	// TxLogPath receives one line per committed instruction.
	TxLogPath string
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Log struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbose    bool
}

// Keeper runs the in-process reserve keeper. It is off unless a key is set.
type Keeper struct {
	PrivateKey string
	Assets     []string
	Interval   time.Duration
	MaxPeriods int
}

type Config struct {
	Node   Node
	API    API
	Log    Log
	Keeper Keeper
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:       "data/db",
			GenesisPath:   "genesis.toml",
			BlockTime:     500 * time.Millisecond,
			MaxBlockBytes: 1 << 22,
			TxLogPath:     "data/transactions.log",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Log: Log{
			File:       "data/node.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Keeper: Keeper{
			Interval:   time.Minute,
			MaxPeriods: 16,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.GenesisPath = getEnv("GENESIS_FILE", cfg.Node.GenesisPath)
	cfg.Node.TxLogPath = getEnv("TX_LOG_FILE", cfg.Node.TxLogPath)
	if ms, ok := getInt("BLOCK_TIME_MS"); ok {
		cfg.Node.BlockTime = time.Duration(ms) * time.Millisecond
	}
	if n, ok := getInt("MAX_BLOCK_BYTES"); ok {
		cfg.Node.MaxBlockBytes = int64(n)
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	if n, ok := getInt("LOG_MAX_SIZE_MB"); ok {
		cfg.Log.MaxSizeMB = n
	}
	if n, ok := getInt("LOG_MAX_BACKUPS"); ok {
		cfg.Log.MaxBackups = n
	}
	if n, ok := getInt("LOG_MAX_AGE_DAYS"); ok {
		cfg.Log.MaxAgeDays = n
	}
	cfg.Log.Verbose = os.Getenv("VERBOSE") == "true"

	cfg.Keeper.PrivateKey = os.Getenv("KEEPER_PRIVATE_KEY")
	if assets := os.Getenv("KEEPER_ASSETS"); assets != "" {
		cfg.Keeper.Assets = splitList(assets)
	}
	if ms, ok := getInt("KEEPER_INTERVAL_MS"); ok {
		cfg.Keeper.Interval = time.Duration(ms) * time.Millisecond
	}
	if n, ok := getInt("KEEPER_MAX_PERIODS"); ok {
		cfg.Keeper.MaxPeriods = n
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
