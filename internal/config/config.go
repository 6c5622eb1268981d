// Package config centralizes runtime configuration for ccr. It loads a
// JSON configuration file and exposes a process-wide configuration with
// defaults for every field left empty. A missing file means defaults; a file
// that exists but does not parse is an error.
package config

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/types"
)

// Modes a node can run in.
const (
	ModeLocal      = "local"
	ModeTendermint = "tendermint"
)

// GenesisAccount is an account created when the chain starts. PublicKey is
// the account's single signing key; the address is derived from it unless
// Address is given.
type GenesisAccount struct {
	Address   string          `json:"address,omitempty"`
	PublicKey types.PublicKey `json:"public_key"`
	Balance   types.Amount    `json:"balance"`
}

// Config holds configurable options for the ccr node.
type Config struct {
	Mode            string                 `json:"mode"`
	Port            int                    `json:"port"`
	ABCIAddress     string                 `json:"abci_address"`
	RPCURL          string                 `json:"rpc_url"`
	DatabaseFile    string                 `json:"database_file"`
	BackupDir       string                 `json:"backup_dir"`
	BackupKeep      int                    `json:"backup_keep"`
	KeyFile         string                 `json:"key_file"`
	CoinsFile       string                 `json:"coins_file"`
	InitialBalance  types.Amount           `json:"initial_balance"`
	Contract        *types.ContractAddress `json:"contract,omitempty"`
	Genesis         []GenesisAccount       `json:"genesis"`
	LogLevel        string                 `json:"log_level"`
	EventBuffer     int                    `json:"event_buffer"`
	EnableMDNS      bool                   `json:"enable_mdns"`
	MDNSServiceName string                 `json:"mdns_service_name"`
	EnableMetrics   bool                   `json:"enable_metrics"`
	// OperatorToken authorizes the API endpoints that issue coins or move
	// the admin role. Empty disables them.
	OperatorToken   string                 `json:"operator_token,omitempty"`
}

// DefaultFile is read when CONFIG_FILE is not set.
const DefaultFile = "ccr-config.json"

// OperatorTokenEnv overrides the operator token of the config file.
const OperatorTokenEnv = "CCR_OPERATOR_TOKEN"

var (
	mu  sync.Mutex
	cfg *Config
)

// Defaults returns a configuration with every field at its default.
func Defaults() *Config {
	return &Config{
		Mode:            ModeLocal,
		Port:            8080,
		ABCIAddress:     "tcp://127.0.0.1:26658",
		RPCURL:          "http://127.0.0.1:26657",
		DatabaseFile:    "ccr.db",
		BackupDir:       "backups",
		BackupKeep:      5,
		KeyFile:         "ccr_key.pem",
		CoinsFile:       "sc-input.json",
		InitialBalance:  100 * types.MicroCCDPerCCD,
		LogLevel:        "info",
		EventBuffer:     200,
		MDNSServiceName: "_ccr._tcp",
	}
}

// LoadConfig reads the JSON file at path and merges defaults into the
// fields it leaves empty. An empty path or a missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	c := *def
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrapf(err, "read config %s", path)
		default:
			c = Config{}
			if err := json.Unmarshal(b, &c); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
			merge(&c, def)
		}
	}
	if t := os.Getenv(OperatorTokenEnv); t != "" {
		c.OperatorToken = t
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	cfg = &c
	mu.Unlock()
	return &c, nil
}

func merge(c, def *Config) {
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.ABCIAddress == "" {
		c.ABCIAddress = def.ABCIAddress
	}
	if c.RPCURL == "" {
		c.RPCURL = def.RPCURL
	}
	if c.DatabaseFile == "" {
		c.DatabaseFile = def.DatabaseFile
	}
	if c.BackupDir == "" {
		c.BackupDir = def.BackupDir
	}
	if c.BackupKeep == 0 {
		c.BackupKeep = def.BackupKeep
	}
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.CoinsFile == "" {
		c.CoinsFile = def.CoinsFile
	}
	if c.InitialBalance == 0 {
		c.InitialBalance = def.InitialBalance
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.MDNSServiceName == "" {
		c.MDNSServiceName = def.MDNSServiceName
	}
}

// Validate checks the fields that have a closed set of values.
func (c *Config) Validate() error {
	if c.Mode != ModeLocal && c.Mode != ModeTendermint {
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	for i, g := range c.Genesis {
		if g.Address == "" {
			continue
		}
		if _, err := types.ParseAccountAddress(g.Address); err != nil {
			return errors.Wrapf(err, "genesis account %d", i)
		}
	}
	return nil
}

// GenesisAddress is the address of g.
func (g GenesisAccount) GenesisAddress() (types.AccountAddress, error) {
	if g.Address == "" {
		return types.AccountAddressFromKey(g.PublicKey), nil
	}
	return types.ParseAccountAddress(g.Address)
}

// Get returns the loaded configuration, or defaults if LoadConfig has not
// been called.
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()
	if cfg == nil {
		cfg = Defaults()
	}
	return cfg
}

// Path returns the config file path from CONFIG_FILE, or DefaultFile.
func Path() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return DefaultFile
}
