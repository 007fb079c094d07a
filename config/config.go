// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Consensus parameters: immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Wallet
	Wallet WalletConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildTokenIndex bool
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled    bool     `conf:"rpc.enabled"`
	Addr       string   `conf:"rpc.addr"`
	Port       int      `conf:"rpc.port"`
	AllowedIPs []string `conf:"rpc.allowed"`
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Enabled  bool   `conf:"wallet.enabled"`
	FilePath string `conf:"wallet.file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "PAC")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "PAC")
		}
		return filepath.Join(home, "PAC")
	default:
		return filepath.Join(home, ".pacd")
	}
}

// NetworkDir returns the per-network subdirectory of the data directory.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// ChainDataDir returns the chain database directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.NetworkDir(), "chaindata")
}

// KeystoreDir returns the wallet keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDir(), "keystore")
}

// LogsDir returns the log file directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.NetworkDir(), "logs")
}
