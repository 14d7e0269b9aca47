package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DataDir        string // pebble journal lives under DataDir/db
	APIAddr        string
	LogFile        string // empty logs to stdout only
	EventLog       string // JSON-lines audit log of engine events; empty disables
	Verbose        bool
	AllowedOrigins []string
	IntentTTL      time.Duration // furthest deadline accepted on signed intents
	TxGen          bool          // devnet order flow feeder over every active market
}

// Fees are in basis points of trade cost. There is no canonical default;
// every component is zero unless configured.
type Fees struct {
	PlatformBps uint64
	CreatorBps  uint64
	DividendBps uint64
}

type Accounts struct {
	Operator common.Address // escrow holder
	Platform common.Address // platform treasury and fallback fee sink
}

// Ledger is the external position/volume service. Empty BaseURL disables
// projection.
type Ledger struct {
	BaseURL   string
	Timeout   time.Duration
	QueueSize int
	Workers   int
}

// Chain configures the on-chain adapter. Empty RPCURL runs the node
// off-chain only.
type Chain struct {
	RPCURL       string
	ChainID      uint64
	OrderBook    common.Address
	Resolver     common.Address
	PrivateKey   string
	PollInterval time.Duration
}

// Events configures the AMQP publisher. Empty AMQPURL disables it.
type Events struct {
	AMQPURL  string
	Exchange string
}

type Config struct {
	Node        Node
	Fees        Fees
	Accounts    Accounts
	Ledger      Ledger
	Chain       Chain
	Events      Events
	MarketsFile string
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:        "data",
			APIAddr:        ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			IntentTTL:      24 * time.Hour,
		},
		Accounts: Accounts{
			Operator: common.HexToAddress("0x00000000000000000000000000000000000e5c00"),
		},
		Ledger: Ledger{
			Timeout:   5 * time.Second,
			QueueSize: 1024,
			Workers:   2,
		},
		Chain: Chain{
			ChainID:      8453,
			PollInterval: 2 * time.Second,
		},
		Events: Events{
			Exchange: "guessly.clob",
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

	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.EventLog = getEnv("EVENT_LOG_FILE", cfg.Node.EventLog)
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Node.Verbose = v == "true"
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.AllowedOrigins = splitList(v)
	}
	cfg.Node.TxGen = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.Node.IntentTTL = getDuration("INTENT_TTL_S", time.Second, cfg.Node.IntentTTL)

	cfg.Fees.PlatformBps = getUint("FEE_PLATFORM_BPS", cfg.Fees.PlatformBps)
	cfg.Fees.CreatorBps = getUint("FEE_CREATOR_BPS", cfg.Fees.CreatorBps)
	cfg.Fees.DividendBps = getUint("FEE_DIVIDEND_BPS", cfg.Fees.DividendBps)

	cfg.Accounts.Operator = getAddress("ESCROW_OPERATOR", cfg.Accounts.Operator)
	cfg.Accounts.Platform = getAddress("PLATFORM_TREASURY", cfg.Accounts.Platform)

	cfg.Ledger.BaseURL = getEnv("LEDGER_BASE_URL", cfg.Ledger.BaseURL)
	cfg.Ledger.Timeout = getDuration("LEDGER_TIMEOUT_MS", time.Millisecond, cfg.Ledger.Timeout)
	cfg.Ledger.QueueSize = int(getUint("LEDGER_QUEUE_SIZE", uint64(cfg.Ledger.QueueSize)))
	cfg.Ledger.Workers = int(getUint("LEDGER_WORKERS", uint64(cfg.Ledger.Workers)))

	cfg.Chain.RPCURL = getEnv("CHAIN_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.ChainID = getUint("CHAIN_ID", cfg.Chain.ChainID)
	cfg.Chain.OrderBook = getAddress("CHAIN_ORDERBOOK", cfg.Chain.OrderBook)
	cfg.Chain.Resolver = getAddress("CHAIN_RESOLVER", cfg.Chain.Resolver)
	cfg.Chain.PrivateKey = getEnv("CHAIN_PRIVATE_KEY", cfg.Chain.PrivateKey)
	cfg.Chain.PollInterval = getDuration("CHAIN_POLL_MS", time.Millisecond, cfg.Chain.PollInterval)

	cfg.Events.AMQPURL = getEnv("AMQP_URL", cfg.Events.AMQPURL)
	cfg.Events.Exchange = getEnv("AMQP_EXCHANGE", cfg.Events.Exchange)

	cfg.MarketsFile = getEnv("MARKETS_FILE", cfg.MarketsFile)
	return cfg
}

// Validate rejects configurations the node cannot run with.
func (c Config) Validate() error {
	var errs []error
	total := c.Fees.PlatformBps + c.Fees.CreatorBps + c.Fees.DividendBps
	if total >= 10_000 {
		errs = append(errs, fmt.Errorf("fee total %d bps must be below 10000", total))
	}
	if total > 0 && c.Accounts.Platform == (common.Address{}) {
		errs = append(errs, errors.New("PLATFORM_TREASURY is required when fees are charged"))
	}
	if c.Accounts.Operator == (common.Address{}) {
		errs = append(errs, errors.New("ESCROW_OPERATOR must be set"))
	}
	if c.Chain.RPCURL != "" && c.Chain.OrderBook == (common.Address{}) && c.Chain.Resolver == (common.Address{}) {
		errs = append(errs, errors.New("CHAIN_RPC_URL set without CHAIN_ORDERBOOK or CHAIN_RESOLVER"))
	}
	if c.Ledger.BaseURL != "" && c.Ledger.Workers <= 0 {
		errs = append(errs, errors.New("LEDGER_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, unit time.Duration, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * unit
		}
	}
	return def
}

func getAddress(key string, def common.Address) common.Address {
	if v := os.Getenv(key); common.IsHexAddress(v) {
		return common.HexToAddress(v)
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
