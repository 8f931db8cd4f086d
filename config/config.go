package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"xroute/pkg/chainswitch"
	"xroute/pkg/wallet"
)

// Config holds the application configuration
type Config struct {
	LogLevel         string                 `mapstructure:"log_level"`
	LogFormat        string                 `mapstructure:"log_format"`
	Chains           map[string]ChainConfig `mapstructure:"chains"`
	Wallet           WalletConfig           `mapstructure:"wallet"`
	Bridge           BridgeConfig           `mapstructure:"bridge"`
	Intents          IntentsConfig          `mapstructure:"intents"`
	Storage          StorageConfig          `mapstructure:"storage"`
	Metrics          MetricsConfig          `mapstructure:"metrics"`
	InfiniteApproval bool                   `mapstructure:"infinite_approval"`
}

// ChainConfig configures one EVM chain
type ChainConfig struct {
	ChainID     int64  `mapstructure:"chain_id"`
	RPCURL      string `mapstructure:"rpc_url"`
	ExplorerURL string `mapstructure:"explorer_url"`
	GasLimit    uint64 `mapstructure:"gas_limit"`
	GasPrice    int64  `mapstructure:"gas_price"`
	// IntentsName is the chain's name in the 1Click API, the key by default
	IntentsName string `mapstructure:"intents_name"`
}

// WalletConfig configures the signing wallet
type WalletConfig struct {
	PrivateKey   string `mapstructure:"private_key"`
	DefaultChain int64  `mapstructure:"default_chain"`
	SwitchMode   string `mapstructure:"switch_mode"`
}

// BridgeConfig configures the nxtp bridge and its relayer network
type BridgeConfig struct {
	RelayerURL        string        `mapstructure:"relayer_url"`
	EventsURL         string        `mapstructure:"events_url"`
	ContractAddress   string        `mapstructure:"contract_address"`
	Integrator        string        `mapstructure:"integrator"`
	Referrer          string        `mapstructure:"referrer"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	PrepareTimeout    time.Duration `mapstructure:"prepare_timeout"`
	FulfillTimeout    time.Duration `mapstructure:"fulfill_timeout"`
	QuoteAttempts     int           `mapstructure:"quote_attempts"`
	StatusURL         string        `mapstructure:"status_url"`
}

// IntentsConfig configures the NEAR Intents 1Click API
type IntentsConfig struct {
	JWTToken     string        `mapstructure:"jwt_token"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	StatusURL    string        `mapstructure:"status_url"`
}

// StorageConfig selects where routes are persisted
type StorageConfig struct {
	Driver string      `mapstructure:"driver"`
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis route store
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig configures the prometheus endpoint of the daemon
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaultChains = map[string]ChainConfig{
	"eth":  {ChainID: 1, ExplorerURL: "https://etherscan.io"},
	"op":   {ChainID: 10, ExplorerURL: "https://optimistic.etherscan.io"},
	"bsc":  {ChainID: 56, ExplorerURL: "https://bscscan.com"},
	"pol":  {ChainID: 137, ExplorerURL: "https://polygonscan.com"},
	"base": {ChainID: 8453, ExplorerURL: "https://basescan.org"},
	"arb":  {ChainID: 42161, ExplorerURL: "https://arbiscan.io"},
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".xroute")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from v, applying defaults and environment
// overrides
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("XROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	for key, chain := range defaultChains {
		prefix := "chains." + key + "."
		v.SetDefault(prefix+"chain_id", chain.ChainID)
		v.SetDefault(prefix+"explorer_url", chain.ExplorerURL)
		v.SetDefault(prefix+"rpc_url", "")
	}

	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.default_chain", 1)
	v.SetDefault("wallet.switch_mode", string(chainswitch.ModeImmediate))

	v.SetDefault("bridge.relayer_url", "")
	v.SetDefault("bridge.events_url", "")
	v.SetDefault("bridge.contract_address", "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE")
	v.SetDefault("bridge.integrator", "xroute")
	v.SetDefault("bridge.referrer", "")
	v.SetDefault("bridge.requests_per_second", 2)
	v.SetDefault("bridge.prepare_timeout", 600*time.Second)
	v.SetDefault("bridge.fulfill_timeout", 200*time.Second)
	v.SetDefault("bridge.quote_attempts", 3)
	v.SetDefault("bridge.status_url", "https://connextscan.io/tx")

	v.SetDefault("intents.jwt_token", "")
	v.SetDefault("intents.poll_interval", 10*time.Second)
	v.SetDefault("intents.timeout", 30*time.Minute)
	v.SetDefault("intents.status_url", "https://explorer.near-intents.org/transactions")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "xroute:route:")
	v.SetDefault("storage.redis.ttl", 0)

	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("infinite_approval", false)
}

// Validate checks the values that have a closed set of options
func (c *Config) Validate() error {
	if _, err := chainswitch.ParseMode(c.Wallet.SwitchMode); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	seen := make(map[int64]string, len(c.Chains))
	for key, chain := range c.Chains {
		if chain.ChainID <= 0 {
			return fmt.Errorf("chain %s has no chain_id", key)
		}
		if other, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("chains %s and %s share chain id %d", other, key, chain.ChainID)
		}
		seen[chain.ChainID] = key
	}
	return nil
}

// Networks returns the chains that have an RPC endpoint, ordered by chain id
func (c *Config) Networks() []wallet.Network {
	networks := make([]wallet.Network, 0, len(c.Chains))
	for key, chain := range c.Chains {
		if chain.RPCURL == "" {
			continue
		}
		n := wallet.Network{
			Key:         key,
			ChainID:     chain.ChainID,
			RPCURL:      chain.RPCURL,
			ExplorerURL: chain.ExplorerURL,
		}
		if chain.GasLimit > 0 {
			limit := chain.GasLimit
			n.GasLimit = &limit
		}
		if chain.GasPrice > 0 {
			price := chain.GasPrice
			n.GasPrice = &price
		}
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i].ChainID < networks[j].ChainID })
	return networks
}

// IntentsChainNames maps chain ids to their 1Click API names
func (c *Config) IntentsChainNames() map[int64]string {
	names := make(map[int64]string, len(c.Chains))
	for key, chain := range c.Chains {
		name := chain.IntentsName
		if name == "" {
			name = key
		}
		names[chain.ChainID] = name
	}
	return names
}

// RequireWallet checks that a signing key is configured
func (c *Config) RequireWallet() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("private key not found. Please set XROUTE_WALLET_PRIVATE_KEY environment variable or add wallet.private_key to .xroute.yaml")
	}
	return nil
}

// RequireIntents checks that the 1Click API token is configured
func (c *Config) RequireIntents() error {
	if c.Intents.JWTToken == "" {
		return fmt.Errorf("JWT token not found. Please set XROUTE_INTENTS_JWT_TOKEN environment variable or add intents.jwt_token to .xroute.yaml")
	}
	return nil
}
