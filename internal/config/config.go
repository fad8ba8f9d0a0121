package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	// NetworkKey is the bitcoin network: mainnet, testnet, signet or regtest.
	NetworkKey = "network"
	// DataDirKey is where config.json, the wallet repository and wallet.db live.
	DataDirKey = "data_dir"
	// ChainBackendKey selects the chain data service: esplora or electrum.
	ChainBackendKey = "chain_backend"
	// EsploraURLKey is the Esplora REST endpoint.
	EsploraURLKey = "esplora_url"
	// EsploraRateLimitKey caps Esplora requests per second.
	EsploraRateLimitKey = "esplora_rate_limit"
	// ElectrumServerModeKey is "default" or "custom".
	ElectrumServerModeKey = "electrum_server_mode"
	// ElectrumServerKey is the custom Electrum server, e.g. ssl://host:50002.
	ElectrumServerKey = "electrum_server"
	// StopGapKey is the number of consecutive unused scripts ending a scan.
	StopGapKey = "stop_gap"
	// ParallelRequestsKey is how many script histories are fetched at once.
	ParallelRequestsKey = "parallel_requests"
	LogFileKey          = "log_file"
	LogLevelKey         = "log_level"
	// StoragePassphraseKey seals the wallet repository when set. Prefer the
	// DEVKIT_WALLET_STORAGE_PASSPHRASE env variable over writing it to disk.
	StoragePassphraseKey = "storage_passphrase"

	BackendEsplora  = "esplora"
	BackendElectrum = "electrum"

	ElectrumDefault = "default"
	ElectrumCustom  = "custom"

	DefaultEsploraURL     = "https://esplora.testnet.kuutamo.cloud/"
	DefaultElectrumServer = "ssl://electrum.blockstream.info:60002"

	configName = "config"
	envPrefix  = "DEVKIT_WALLET"
)

var defaultDataDir = btcutil.AppDataDir("devkit-wallet", false)

// Config is the resolved wallet configuration.
type Config struct {
	Network            string
	DataDir            string
	ChainBackend       string
	EsploraURL         string
	EsploraRateLimit   int
	ElectrumServerMode string
	ElectrumServer     string
	StopGap            int
	ParallelRequests   int
	LogFile            string
	LogLevel           string
	StoragePassphrase  string

	vip *viper.Viper
}

// DefaultDataDir returns the platform data directory used when none is given.
func DefaultDataDir() string {
	return defaultDataDir
}

// Load reads config.json from dataDir, creating it with defaults when it does
// not exist yet. DEVKIT_WALLET_* environment variables override file values.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("error creating data dir: %w", err)
	}

	vip := viper.New()
	vip.SetConfigName(configName)
	vip.SetConfigType("json")
	vip.AddConfigPath(dataDir)
	vip.SetEnvPrefix(envPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	setDefaults(vip, dataDir)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := createDefaultConfig(vip, dataDir); err != nil {
			return nil, err
		}
	}

	cfg := fromViper(vip)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(vip *viper.Viper, dataDir string) {
	vip.SetDefault(NetworkKey, "testnet")
	vip.SetDefault(DataDirKey, dataDir)
	vip.SetDefault(ChainBackendKey, BackendEsplora)
	vip.SetDefault(EsploraURLKey, DefaultEsploraURL)
	vip.SetDefault(EsploraRateLimitKey, 10)
	vip.SetDefault(ElectrumServerModeKey, ElectrumDefault)
	vip.SetDefault(ElectrumServerKey, "")
	vip.SetDefault(StopGapKey, 10)
	vip.SetDefault(ParallelRequestsKey, 1)
	vip.SetDefault(LogFileKey, filepath.Join(dataDir, "wallet.log"))
	vip.SetDefault(LogLevelKey, "info")
	vip.SetDefault(StoragePassphraseKey, "")
}

// createDefaultConfig writes the defaults out so users have a file to edit.
func createDefaultConfig(vip *viper.Viper, dataDir string) error {
	path := filepath.Join(dataDir, configName+".json")

	// The passphrase only ever comes from the environment on first run.
	passphrase := vip.GetString(StoragePassphraseKey)
	vip.Set(StoragePassphraseKey, "")
	defer vip.Set(StoragePassphraseKey, passphrase)

	if err := vip.SafeWriteConfigAs(path); err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if !errors.As(err, &exists) {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}
	vip.SetConfigFile(path)
	return nil
}

func fromViper(vip *viper.Viper) *Config {
	return &Config{
		Network:            strings.ToLower(vip.GetString(NetworkKey)),
		DataDir:            vip.GetString(DataDirKey),
		ChainBackend:       strings.ToLower(vip.GetString(ChainBackendKey)),
		EsploraURL:         vip.GetString(EsploraURLKey),
		EsploraRateLimit:   vip.GetInt(EsploraRateLimitKey),
		ElectrumServerMode: strings.ToLower(vip.GetString(ElectrumServerModeKey)),
		ElectrumServer:     vip.GetString(ElectrumServerKey),
		StopGap:            vip.GetInt(StopGapKey),
		ParallelRequests:   vip.GetInt(ParallelRequestsKey),
		LogFile:            vip.GetString(LogFileKey),
		LogLevel:           vip.GetString(LogLevelKey),
		StoragePassphrase:  vip.GetString(StoragePassphraseKey),
		vip:                vip,
	}
}

// Validate checks the values that would otherwise fail deep inside a sync.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	switch c.ChainBackend {
	case BackendEsplora:
		if c.EsploraURL == "" {
			return fmt.Errorf("%s must not be empty", EsploraURLKey)
		}
	case BackendElectrum:
		if c.ElectrumServerMode != ElectrumDefault && c.ElectrumServerMode != ElectrumCustom {
			return fmt.Errorf("%s must be %q or %q", ElectrumServerModeKey, ElectrumDefault, ElectrumCustom)
		}
		if c.ElectrumServerMode == ElectrumCustom && c.ElectrumServer == "" {
			return fmt.Errorf("%s must be set for a custom electrum server", ElectrumServerKey)
		}
	default:
		return fmt.Errorf("unknown %s %q", ChainBackendKey, c.ChainBackend)
	}
	if c.StopGap <= 0 {
		return fmt.Errorf("%s must be positive", StopGapKey)
	}
	if c.ParallelRequests <= 0 {
		return fmt.Errorf("%s must be positive", ParallelRequestsKey)
	}
	return nil
}

// Params maps the configured network name to chain parameters.
func (c *Config) Params() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// ElectrumURL resolves the Electrum server from the DEFAULT/CUSTOM setting.
func (c *Config) ElectrumURL() string {
	if c.ElectrumServerMode == ElectrumCustom {
		return c.ElectrumServer
	}
	return DefaultElectrumServer
}

// WalletDBPath is the local wallet database file.
func (c *Config) WalletDBPath() string {
	return filepath.Join(c.DataDir, "wallet.db")
}

// RepositoryPath is the durable descriptor and mnemonic store.
func (c *Config) RepositoryPath() string {
	return filepath.Join(c.DataDir, "wallet.env")
}

// UseCustomElectrum switches to a custom Electrum server and persists it.
func (c *Config) UseCustomElectrum(server string) error {
	c.ElectrumServerMode = ElectrumCustom
	c.ElectrumServer = server
	return c.save()
}

// UseDefaultElectrum switches back to the default Electrum server.
func (c *Config) UseDefaultElectrum() error {
	c.ElectrumServerMode = ElectrumDefault
	return c.save()
}

// IsElectrumServerDefault reports whether the default server is in use.
func (c *Config) IsElectrumServerDefault() bool {
	return c.ElectrumServerMode != ElectrumCustom
}

func (c *Config) save() error {
	if c.vip == nil {
		return nil
	}
	c.vip.Set(ElectrumServerModeKey, c.ElectrumServerMode)
	c.vip.Set(ElectrumServerKey, c.ElectrumServer)

	passphrase := c.vip.GetString(StoragePassphraseKey)
	c.vip.Set(StoragePassphraseKey, "")
	defer c.vip.Set(StoragePassphraseKey, passphrase)

	if err := c.vip.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
