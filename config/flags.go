package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Load builds the node configuration from defaults, an optional config
// file, and command-line flags (highest precedence).
func Load() (*Config, error) {
	fs := flag.NewFlagSet("pacd", flag.ContinueOnError)

	network := fs.String("network", "mainnet", "network to join (mainnet|testnet)")
	dataDir := fs.String("datadir", "", "data directory")
	confFile := fs.String("conf", "", "configuration file (key = value)")

	p2p := fs.Bool("p2p", true, "enable p2p networking")
	p2pPort := fs.Int("p2p-port", 0, "p2p listen port")
	seeds := fs.String("seeds", "", "comma-separated seed multiaddrs")
	maxPeers := fs.Int("maxpeers", 0, "maximum peer count")

	rpc := fs.Bool("rpc", true, "enable RPC server")
	rpcAddr := fs.String("rpc-addr", "", "RPC listen address")
	rpcPort := fs.Int("rpc-port", 0, "RPC listen port")
	rpcAllowed := fs.String("rpc-allowed", "", "comma-separated allowed RPC client IPs/CIDRs")

	walletEnabled := fs.Bool("wallet", false, "enable the wallet")
	walletFile := fs.String("wallet-file", "", "wallet file name")

	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	logFile := fs.String("log-file", "", "log file path")
	logJSON := fs.Bool("log-json", false, "log JSON to console")

	rebuildTokens := fs.Bool("rebuild-token-index", false, "reset and rescan the token registry on startup")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	net := NetworkType(*network)
	if net != Mainnet && net != Testnet {
		return nil, fmt.Errorf("unknown network %q", *network)
	}

	cfg := Default(net)

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// Config file values sit between defaults and flags.
	if *confFile != "" {
		values, err := LoadFile(*confFile)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		applyFileValues(cfg, values)
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if set["p2p"] {
		cfg.P2P.Enabled = *p2p
	}
	if *p2pPort != 0 {
		cfg.P2P.Port = *p2pPort
	}
	if *seeds != "" {
		cfg.P2P.Seeds = splitList(*seeds)
	}
	if *maxPeers != 0 {
		cfg.P2P.MaxPeers = *maxPeers
	}
	if set["rpc"] {
		cfg.RPC.Enabled = *rpc
	}
	if *rpcAddr != "" {
		cfg.RPC.Addr = *rpcAddr
	}
	if *rpcPort != 0 {
		cfg.RPC.Port = *rpcPort
	}
	if *rpcAllowed != "" {
		cfg.RPC.AllowedIPs = splitList(*rpcAllowed)
	}
	if *walletEnabled {
		cfg.Wallet.Enabled = true
	}
	if *walletFile != "" {
		cfg.Wallet.FilePath = *walletFile
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *logJSON {
		cfg.Log.JSON = true
	}
	cfg.RebuildTokenIndex = *rebuildTokens

	return cfg, nil
}

// applyFileValues maps key = value pairs from the config file onto cfg.
func applyFileValues(cfg *Config, values map[string]string) {
	for key, value := range values {
		switch key {
		case "datadir":
			cfg.DataDir = value
		case "p2p.enabled":
			cfg.P2P.Enabled = value == "true" || value == "1"
		case "p2p.port":
			fmt.Sscanf(value, "%d", &cfg.P2P.Port)
		case "p2p.seeds":
			cfg.P2P.Seeds = splitList(value)
		case "p2p.maxpeers":
			fmt.Sscanf(value, "%d", &cfg.P2P.MaxPeers)
		case "rpc.enabled":
			cfg.RPC.Enabled = value == "true" || value == "1"
		case "rpc.addr":
			cfg.RPC.Addr = value
		case "rpc.port":
			fmt.Sscanf(value, "%d", &cfg.RPC.Port)
		case "rpc.allowed":
			cfg.RPC.AllowedIPs = splitList(value)
		case "wallet.enabled":
			cfg.Wallet.Enabled = value == "true" || value == "1"
		case "wallet.file":
			cfg.Wallet.FilePath = value
		case "log.level":
			cfg.Log.Level = value
		case "log.file":
			cfg.Log.File = value
		case "log.json":
			cfg.Log.JSON = value == "true" || value == "1"
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
