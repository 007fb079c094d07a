// pacd is the PAC token-chain node daemon.
//
// Usage:
//
//	pacd [--network testnet] [--wallet] [--rebuild-token-index]
//	pacd --help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/node"
	"golang.org/x/term"
)

// promptWalletPassword asks for the keystore passphrase on the terminal
// when the wallet is enabled and PACD_WALLET_PASSWORD is not set.
func promptWalletPassword(cfg *config.Config) error {
	if !cfg.Wallet.Enabled {
		return nil
	}
	if _, set := os.LookupEnv("PACD_WALLET_PASSWORD"); set {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil // Headless: an empty passphrase is assumed.
	}

	fmt.Print("Wallet passphrase: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	return os.Setenv("PACD_WALLET_PASSWORD", string(password))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := promptWalletPassword(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Drop a commented config template on first run.
	confPath := filepath.Join(cfg.NetworkDir(), "pac.conf")
	if _, err := os.Stat(confPath); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(cfg.NetworkDir(), 0755); mkErr == nil {
			if wrErr := config.WriteDefaultConfigFile(confPath); wrErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not write %s: %v\n", confPath, wrErr)
			}
		}
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
