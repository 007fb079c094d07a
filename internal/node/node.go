// Package node wires the pacd components together and manages their
// lifecycle.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/chain"
	klog "github.com/pacprotocol/pacd/internal/log"
	"github.com/pacprotocol/pacd/internal/mempool"
	"github.com/pacprotocol/pacd/internal/p2p"
	"github.com/pacprotocol/pacd/internal/rpc"
	"github.com/pacprotocol/pacd/internal/storage"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/internal/wallet"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized pacd node.
type Node struct {
	cfg    *config.Config
	params *config.Params
	logger zerolog.Logger

	db        storage.DB
	utxoStore *utxo.Store
	ch        *chain.Chain
	registry  *token.Registry
	validator *token.Validator
	indexer   *token.Indexer
	pool      *mempool.Pool
	wlt       *wallet.Wallet

	p2pNode   *p2p.Node
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates and initializes a node. Background services (P2P, RPC) are
// started by Start.
func New(cfg *config.Config) (*Node, error) {
	// Address encoding follows the network.
	if cfg.Network == config.Testnet {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "pacd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	params := config.ParamsFor(cfg.Network)
	logger.Info().
		Str("network", string(cfg.Network)).
		Uint64("token_activation", params.TokenActivationHeight).
		Msg("Starting pacd")

	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.ChainDataDir(), err)
	}
	logger.Info().Str("path", cfg.ChainDataDir()).Msg("Database opened")

	utxoStore := utxo.NewStore(db)
	blockStore := chain.NewBlockStore(db)

	ch, err := chain.New(blockStore, utxoStore, params)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open chain: %w", err)
	}

	// The registry owns the token keyspace within the shared database.
	registry := token.NewRegistry(storage.NewPrefixDB(db, []byte("tok/")))
	if err := registry.Init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load token registry: %w", err)
	}
	logger.Info().Uint64("issuances", registry.Size()).Msg("Token registry loaded")

	validator := token.NewValidator(registry, ch, params)
	indexer := token.NewIndexer(ch, validator, klog.Token)
	ch.SetTokenIndexer(indexer)

	if ch.Height() == 0 && ch.TipHash().IsZero() {
		if err := ch.InitFromGenesis(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init genesis: %w", err)
		}
		logger.Info().Str("hash", ch.TipHash().String()).Msg("Genesis block connected")
	}

	pool := mempool.New(ch.UTXOProvider(), 5000)
	pool.SetTokenValidator(validator, ch)
	validator.SetPoolRemover(pool)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:       cfg,
		params:    params,
		logger:    logger,
		db:        db,
		utxoStore: utxoStore,
		ch:        ch,
		registry:  registry,
		validator: validator,
		indexer:   indexer,
		pool:      pool,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.Wallet.Enabled {
		if err := n.initWallet(); err != nil {
			n.Stop()
			return nil, err
		}
	}

	if cfg.RebuildTokenIndex {
		logger.Info().Msg("Rebuilding token registry from chain")
		ch.Lock()
		err := indexer.Rebuild(ctx.Done())
		ch.Unlock()
		if err != nil {
			n.Stop()
			return nil, fmt.Errorf("token rebuild: %w", err)
		}
	}

	return n, nil
}

// initWallet loads or creates the wallet seed and derives the first
// address. The keystore passphrase comes from PACD_WALLET_PASSWORD.
func (n *Node) initWallet() error {
	ks, err := wallet.NewKeystore(n.cfg.KeystoreDir())
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}

	name := n.cfg.Wallet.FilePath
	if name == "" {
		name = "default"
	}
	password := []byte(os.Getenv("PACD_WALLET_PASSWORD"))

	seed, err := ks.Load(name, password)
	if err != nil {
		// First run: create a wallet from a fresh mnemonic.
		mnemonic, genErr := wallet.GenerateMnemonic()
		if genErr != nil {
			return fmt.Errorf("generate mnemonic: %w", genErr)
		}
		seed, genErr = wallet.SeedFromMnemonic(mnemonic, "")
		if genErr != nil {
			return fmt.Errorf("derive seed: %w", genErr)
		}
		if createErr := ks.Create(name, seed, password, wallet.DefaultParams()); createErr != nil {
			return fmt.Errorf("create wallet: %w", createErr)
		}
		n.logger.Info().Str("wallet", name).Msg("Created new wallet; back up the mnemonic")
		fmt.Printf("New wallet mnemonic (write this down):\n%s\n", mnemonic)
	}

	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}

	w := wallet.New(n.ch, n.utxoStore, n.pool)
	w.SetMaster(master)

	// Resume derivation where the keystore left off and record the first
	// address; re-adding a known address is a no-op.
	startIndex, err := ks.GetExternalIndex(name)
	if err != nil {
		return fmt.Errorf("read derivation index: %w", err)
	}
	if startIndex > 0 {
		// Re-derive the previously issued addresses so their coins stay
		// visible.
		w.SetNextIndex(0)
		for i := uint32(0); i < startIndex; i++ {
			if _, err := w.NewAddress(); err != nil {
				return err
			}
		}
	}

	addr, err := w.NewAddress()
	if err != nil {
		return err
	}
	if err := ks.AddAccount(name, wallet.AccountEntry{
		Index:   startIndex,
		Change:  wallet.ChangeExternal,
		Name:    "default",
		Address: addr.Hex(),
	}); err != nil {
		return fmt.Errorf("record account: %w", err)
	}
	if err := ks.SetExternalIndex(name, w.NextIndex()); err != nil {
		return fmt.Errorf("record derivation index: %w", err)
	}
	n.wlt = w
	return nil
}

// Start launches P2P networking and the RPC server.
func (n *Node) Start() error {
	if n.cfg.P2P.Enabled {
		p2pNode, err := p2p.NewNode(n.cfg.P2P, n.cfg.Network, klog.P2P)
		if err != nil {
			return fmt.Errorf("start p2p: %w", err)
		}
		n.p2pNode = p2pNode

		if err := p2pNode.Gossip().SubscribeTx(n.ctx, p2pNode.ID(), n.onPeerTx); err != nil {
			return err
		}
		if err := p2pNode.Gossip().SubscribeBlocks(n.ctx, p2pNode.ID(), n.onPeerBlock); err != nil {
			return err
		}
	}

	if n.cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", n.cfg.RPC.Addr, n.cfg.RPC.Port)
		srv := rpc.New(addr, n.ch, n.utxoStore, n.pool, n.registry, n.indexer, n.params, n.cfg.RPC)
		if n.wlt != nil {
			srv.SetWallet(n.wlt)
		}
		if n.p2pNode != nil {
			srv.SetBroadcaster(&txBroadcaster{n.p2pNode})
		}
		if err := srv.Start(); err != nil {
			return err
		}
		n.rpcServer = srv
		n.logger.Info().Str("addr", srv.Addr()).Msg("RPC server listening")
	}

	return nil
}

// onPeerTx admits a relayed transaction into the mempool. Parse and rule
// failures drop the transaction silently.
func (n *Node) onPeerTx(transaction *tx.Transaction) {
	if _, err := n.pool.Add(transaction); err != nil {
		n.logger.Debug().Err(err).Str("tx", transaction.Hash().String()).Msg("Dropped relayed tx")
	}
}

// onPeerBlock connects a relayed block.
func (n *Node) onPeerBlock(blk *block.Block) {
	if err := n.ch.ProcessBlock(blk); err != nil {
		n.logger.Debug().Err(err).Msg("Rejected relayed block")
		return
	}
	n.pool.RemoveConfirmed(blk.Transactions)
}

// Wallet returns the node wallet, nil when disabled.
func (n *Node) Wallet() *wallet.Wallet {
	return n.wlt
}

// Stop shuts everything down in reverse order, flushing the registry
// before the database closes.
func (n *Node) Stop() {
	n.cancel()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Close()
	}
	if n.registry != nil {
		if err := n.registry.Flush(); err != nil {
			n.logger.Error().Err(err).Msg("Token registry flush failed")
		}
	}
	if n.db != nil {
		n.db.Close()
	}
	n.logger.Info().Msg("Node stopped")
}

// txBroadcaster adapts the p2p gossip layer to the RPC broadcaster.
type txBroadcaster struct {
	node *p2p.Node
}

func (b *txBroadcaster) BroadcastTx(ctx context.Context, transaction *tx.Transaction) error {
	return b.node.Gossip().BroadcastTx(ctx, transaction)
}
