// Package config defines the relayer's on-disk/flag/env configuration
// surface (spec §6), following the teacher's go-flags struct-tag
// convention: one struct per concern, `long`/`description` tags for the
// CLI/ini parser, with environment variable overrides applied after
// flag parsing the way lnd resolves its homedir-relative defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// GeneralConfig holds daemon-wide settings.
type GeneralConfig struct {
	LocalChain string `long:"localchain" description:"chain ID this relayer instance runs as the destination endpoint for"`
	DataDir    string `long:"datadir" description:"directory holding the relayer's bbolt database" default:"./data"`
	LogLevel   string `long:"loglevel" description:"default log level for all subsystems" default:"info"`
}

// RegistryConfig configures the chain registry cache (spec §4.A).
type RegistryConfig struct {
	BaseURL         string        `long:"registry.baseurl" description:"chain registry REST API base URL"`
	CacheTimeout    time.Duration `long:"registry.cachetimeout" description:"max age before a cached snapshot is considered stale" default:"10m"`
	RefreshInterval time.Duration `long:"registry.refreshinterval" description:"interval between background registry refreshes" default:"5m"`
}

// EVMConfig configures the EVM chain monitor (spec §4.D).
type EVMConfig struct {
	RPCURL            string        `long:"evm.rpcurl" description:"EVM JSON-RPC endpoint"`
	ChainID           string        `long:"evm.chainid" description:"EVM chain identifier used in relay IDs"`
	HTLCContract      string        `long:"evm.htlccontract" description:"address of the HTLC contract to monitor"`
	Confirmations     uint64        `long:"evm.confirmations" description:"block confirmations required before treating an event as final" default:"12"`
	PollingInterval   time.Duration `long:"evm.pollinterval" description:"polling interval for new blocks" default:"5s"`
	ReorgBuffer       uint64        `long:"evm.reorgbuffer" description:"blocks to lag behind head before scanning, for reorg safety" default:"6"`
	MaxBlocksPerBatch uint64        `long:"evm.maxblocksperbatch" description:"maximum block range scanned per poll" default:"2000"`
	DedupRingSize     int           `long:"evm.deduprinsize" description:"size of the in-memory event dedup ring" default:"4096"`
	RPCRateLimit      float64       `long:"evm.rpcratelimit" description:"max JSON-RPC calls per second against the EVM node, 0 disables throttling" default:"0"`
	RPCRateBurst      int           `long:"evm.rpcrateburst" description:"burst size for evm.rpcratelimit" default:"1"`
}

// CosmosConfig configures one IBC-chain monitor (spec §4.E). The relayer
// may watch several Cosmos chains; LoadConfig builds one CosmosConfig per
// entry in the COSMOS_CHAINS env var.
type CosmosConfig struct {
	RPCURL          string        `long:"cosmos.rpcurl" description:"Tendermint RPC endpoint"`
	ChainID         string        `long:"cosmos.chainid" description:"Cosmos chain identifier used in relay IDs"`
	HTLCContract    string        `long:"cosmos.htlccontract" description:"bech32 address of the wasm HTLC contract to monitor"`
	PollingInterval time.Duration `long:"cosmos.pollinterval" description:"polling interval for new heights" default:"3s"`
}

// RelayConfig configures the relay engine (spec §4.H).
type RelayConfig struct {
	MaxRetries      int           `long:"relay.maxretries" description:"attempts before a relay is terminally failed" default:"5"`
	RetryDelay      time.Duration `long:"relay.retrydelay" description:"delay before re-enqueueing a failed relay" default:"30s"`
	TimeoutBuffer   time.Duration `long:"relay.timeoutbuffer" description:"minimum remaining timelock window required to attempt a relay" default:"5m"`
	Workers         int           `long:"relay.workers" description:"worker pool size" default:"8"`
	QueueSize       int           `long:"relay.queuesize" description:"bounded relay queue capacity" default:"256"`
	CleanupInterval time.Duration `long:"relay.cleanupinterval" description:"interval between in-memory terminal-relay sweeps" default:"1h"`
	CleanupAge      time.Duration `long:"relay.cleanupage" description:"age after which a terminal relay is dropped from memory" default:"24h"`
	MaxHops         int           `long:"relay.maxhops" description:"maximum cascade length the planner will accept" default:"4"`
	HopTimeout      time.Duration `long:"relay.hoptimeout" description:"maximum absolute timeout window granted to a single hop" default:"10m"`
}

// RecoveryConfig configures the recovery scanner (spec §4.I).
type RecoveryConfig struct {
	ScanInterval time.Duration `long:"recovery.scaninterval" description:"interval between recovery sweeps" default:"5m"`
	GracePeriod  time.Duration `long:"recovery.graceperiod" description:"delay past timelock expiry before a refund is attempted" default:"2m"`
}

// AdminConfig configures the gRPC admin surface (spec §4.J, supplemented
// health/cleanup commands).
type AdminConfig struct {
	ListenAddr   string `long:"admin.listenaddr" description:"gRPC admin surface listen address" default:"localhost:10080"`
	MacaroonPath string `long:"admin.macaroonpath" description:"path to the admin macaroon, generated on first run" default:"./data/admin.macaroon"`
}

// Config is the fully resolved, top-level configuration tree.
type Config struct {
	General  GeneralConfig  `group:"General"`
	Registry RegistryConfig `group:"Registry"`
	EVM      EVMConfig      `group:"EVM"`
	Cosmos   []CosmosConfig `no-flag:"true"`
	Relay    RelayConfig    `group:"Relay"`
	Recovery RecoveryConfig `group:"Recovery"`
	Admin    AdminConfig    `group:"Admin"`
}

// LoadConfig parses args (typically os.Args[1:]) via go-flags, then
// applies the COSMOS_CHAINS environment override, mirroring the teacher's
// convention of flag-parse-then-env-overlay rather than a single unified
// source.
func LoadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cosmosChains, err := parseCosmosChainsEnv()
	if err != nil {
		return nil, err
	}
	cfg.Cosmos = cosmosChains

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{}
}

// applyEnvOverrides lets a small set of secrets/endpoints be supplied by
// environment rather than committed to an ini file or passed on a visible
// command line, the way lnd resolves RPC credentials.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RELAYER_EVM_RPCURL"); v != "" {
		cfg.EVM.RPCURL = v
	}
	if v := os.Getenv("RELAYER_LOCALCHAIN"); v != "" {
		cfg.General.LocalChain = v
	}
	if v := os.Getenv("RELAYER_REGISTRY_BASEURL"); v != "" {
		cfg.Registry.BaseURL = v
	}
	return nil
}

// parseCosmosChainsEnv parses COSMOS_CHAINS as a ';'-separated list of
// "chainID|rpcURL|htlcContract" entries, since go-flags has no native
// support for a repeated struct group.
func parseCosmosChainsEnv() ([]CosmosConfig, error) {
	raw := os.Getenv("COSMOS_CHAINS")
	if raw == "" {
		return nil, nil
	}

	var out []CosmosConfig
	for _, entry := range splitNonEmpty(raw, ';') {
		parts := splitNonEmpty(entry, '|')
		if len(parts) != 3 {
			return nil, fmt.Errorf("config: malformed COSMOS_CHAINS entry %q, want chainID|rpcURL|htlcContract", entry)
		}
		out = append(out, CosmosConfig{
			ChainID:         parts[0],
			RPCURL:          parts[1],
			HTLCContract:    parts[2],
			PollingInterval: 3 * time.Second,
		})
	}
	return out, nil
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.General.LocalChain == "" {
		return fmt.Errorf("config: general.localchain is required")
	}
	if cfg.EVM.RPCURL == "" {
		return fmt.Errorf("config: evm.rpcurl is required")
	}
	if cfg.Registry.BaseURL == "" {
		return fmt.Errorf("config: registry.baseurl is required")
	}
	if len(cfg.Cosmos) == 0 {
		return fmt.Errorf("config: at least one Cosmos chain must be configured via COSMOS_CHAINS")
	}
	for _, c := range cfg.Cosmos {
		if c.RPCURL == "" || c.ChainID == "" {
			return fmt.Errorf("config: cosmos chain %q missing rpcurl or chainid", c.ChainID)
		}
	}
	if _, err := parsePort(cfg.Admin.ListenAddr); err != nil {
		return fmt.Errorf("config: admin.listenaddr: %w", err)
	}
	return nil
}

func parsePort(addr string) (int, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return strconv.Atoi(addr[i+1:])
		}
	}
	return 0, fmt.Errorf("config: address %q has no port", addr)
}
