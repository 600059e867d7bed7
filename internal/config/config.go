package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Chains      []ChainConfig      `mapstructure:"chains"`
	Bond        BondConfig         `mapstructure:"bond"`
	Aggregator  AggregatorConfig   `mapstructure:"aggregator"`
	Registry    RegistryConfig     `mapstructure:"registry"`
	RateLimits  RateLimitConfig    `mapstructure:"rate_limits"`
	Solver      SolverConfig       `mapstructure:"solver"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChainConfig is the per-chain settlement engine wiring: the RPC endpoint
// used for on-chain reads (the registry's totalBondOf bond check)
// and the EIP-712 verifying-contract address solvers sign quotes against.
type ChainConfig struct {
	ChainID             int64  `mapstructure:"chain_id"`
	Name                string `mapstructure:"name"`
	RPCURL              string `mapstructure:"rpc_url"`
	VerifyingContract   string `mapstructure:"verifying_contract"`
	BondToken           string `mapstructure:"bond_token"`
	ChainReaderCacheSec int    `mapstructure:"chainreader_cache_seconds"`
	ChainReaderTimeoutMs int   `mapstructure:"chainreader_timeout_ms"`
	ChainReaderRetries  int    `mapstructure:"chainreader_retries"`
}

// BondConfig holds the protocol-wide economic constants.
type BondConfig struct {
	ReserveBps      int64         `mapstructure:"reserve_bps"`       // 500 = 5%
	MinBond         string        `mapstructure:"min_bond"`          // decimal string, smallest unit
	UnstakeTimelock time.Duration `mapstructure:"unstake_timelock"`  // 7 * 24h
}

// AggregatorConfig governs the aggregator's fan-out behavior. FanoutTimeout
// is not read: each solver call is bounded by the fixed
// aggregator.QuoteTimeout (2s).
type AggregatorConfig struct {
	FanoutTimeout       time.Duration `mapstructure:"fanout_timeout"`
	MaxSolversPerChain  int           `mapstructure:"max_solvers_per_chain"`
	StripAltSignatures  bool          `mapstructure:"strip_alt_signatures"`
}

// RegistryConfig governs solver directory persistence and endpoint safety.
type RegistryConfig struct {
	AllowInsecureEndpoints bool `mapstructure:"allow_insecure_endpoints"` // dev mode only
}

type RateLimitConfig struct {
	QuotePerMinute             int `mapstructure:"quote_per_minute"`
	OrderStatusPerMinute       int `mapstructure:"order_status_per_minute"`
	SolverRegisterPerMinute    int `mapstructure:"solver_register_per_minute"`
	SolverUnregisterPerMinute  int `mapstructure:"solver_unregister_per_minute"`
	SolverListPerMinute        int `mapstructure:"solver_list_per_minute"`
}

// SolverConfig configures the reference solver daemon (cmd/solver).
type SolverConfig struct {
	PrivateKey          string        `mapstructure:"private_key"`
	ChainID             int64         `mapstructure:"chain_id"`
	ListenPort          string        `mapstructure:"listen_port"`
	AggregatorURL       string        `mapstructure:"aggregator_url"`
	BondAmount          string        `mapstructure:"bond_amount"`
	SpreadBps           int64         `mapstructure:"spread_bps"`
	WatcherPollInterval time.Duration `mapstructure:"watcher_poll_interval"`
	FillQueueDepth      int           `mapstructure:"fill_queue_depth"`
	Pairs               []SolverPairConfig `mapstructure:"pairs"`
}

// SolverPairConfig is one quoted pair's pricing configuration, the config
// file's representation of solver/pricing.PairConfig.
type SolverPairConfig struct {
	InputToken      string `mapstructure:"input_token"`
	OutputToken     string `mapstructure:"output_token"`
	Price           string `mapstructure:"price"`            // whole output tokens per one whole input token
	SpreadBps       int64  `mapstructure:"spread_bps"`
	InputDecimals   uint8  `mapstructure:"input_decimals"`
	OutputDecimals  uint8  `mapstructure:"output_decimals"`
	USDPerInputUnit string `mapstructure:"usd_per_input_unit"`
	MaxUSDNotional  string `mapstructure:"max_usd_notional"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// e.g. FIRMSWAP_BOND_MIN_BOND
	viper.SetEnvPrefix("firmswap")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")

	viper.SetDefault("bond.reserve_bps", 500)
	viper.SetDefault("bond.min_bond", "1000000000")
	viper.SetDefault("bond.unstake_timelock", 7*24*time.Hour)

	viper.SetDefault("aggregator.fanout_timeout", 3*time.Second)
	viper.SetDefault("aggregator.max_solvers_per_chain", 32)
	viper.SetDefault("aggregator.strip_alt_signatures", true)

	viper.SetDefault("registry.allow_insecure_endpoints", false)

	viper.SetDefault("rate_limits.quote_per_minute", 30)
	viper.SetDefault("rate_limits.order_status_per_minute", 60)
	viper.SetDefault("rate_limits.solver_register_per_minute", 5)
	viper.SetDefault("rate_limits.solver_unregister_per_minute", 10)
	viper.SetDefault("rate_limits.solver_list_per_minute", 60)

	viper.SetDefault("solver.listen_port", "9090")
	viper.SetDefault("solver.bond_amount", "1000000000")
	viper.SetDefault("solver.spread_bps", 10)
	viper.SetDefault("solver.watcher_poll_interval", 5*time.Second)
	viper.SetDefault("solver.fill_queue_depth", 256)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ChainByID returns the chain config matching id, or false if none.
func (c *Config) ChainByID(id int64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == id {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
