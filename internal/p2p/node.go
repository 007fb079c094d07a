// Package p2p relays transactions and blocks between nodes over libp2p
// gossip topics.
package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/pacprotocol/pacd/config"
)

// rendezvous namespaces peer discovery per network.
func rendezvous(network config.NetworkType) string {
	return "pacd/" + string(network)
}

// Node is the libp2p networking host.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	gossip *Gossip
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode creates and starts a libp2p host with DHT discovery and gossip
// topics joined.
func NewNode(cfg config.P2PConfig, network config.NetworkType, logger zerolog.Logger) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	listenAddr := fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenAddr, cfg.Port)
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("kad dht: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		kdht.Close()
		h.Close()
		cancel()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}

	n := &Node{
		host:   h,
		dht:    kdht,
		pubsub: ps,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	gossip, err := newGossip(ctx, ps, network, logger)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.gossip = gossip

	n.connectSeeds(cfg.Seeds)
	n.startDiscovery(network)

	logger.Info().
		Str("peer_id", h.ID().String()).
		Str("listen", listenAddr).
		Msg("P2P node started")
	return n, nil
}

// connectSeeds dials the configured seed multiaddrs.
func (n *Node) connectSeeds(seeds []string) {
	for _, seed := range seeds {
		addr, err := multiaddr.NewMultiaddr(seed)
		if err != nil {
			n.logger.Warn().Str("seed", seed).Err(err).Msg("Bad seed multiaddr")
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			n.logger.Warn().Str("seed", seed).Err(err).Msg("Bad seed peer info")
			continue
		}
		if err := n.host.Connect(n.ctx, *info); err != nil {
			n.logger.Warn().Str("seed", seed).Err(err).Msg("Seed connect failed")
		}
	}
}

// startDiscovery advertises on the DHT and dials discovered peers.
func (n *Node) startDiscovery(network config.NetworkType) {
	if err := n.dht.Bootstrap(n.ctx); err != nil {
		n.logger.Warn().Err(err).Msg("DHT bootstrap failed")
		return
	}

	disc := routing.NewRoutingDiscovery(n.dht)
	util.Advertise(n.ctx, disc, rendezvous(network))

	go func() {
		peers, err := disc.FindPeers(n.ctx, rendezvous(network))
		if err != nil {
			n.logger.Warn().Err(err).Msg("Peer discovery failed")
			return
		}
		for p := range peers {
			if p.ID == n.host.ID() || len(p.Addrs) == 0 {
				continue
			}
			if err := n.host.Connect(n.ctx, p); err != nil {
				n.logger.Debug().Str("peer", p.ID.String()).Err(err).Msg("Dial failed")
			}
		}
	}()
}

// Gossip returns the node's gossip layer.
func (n *Node) Gossip() *Gossip {
	return n.gossip
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return len(n.host.Network().Peers())
}

// Close shuts the host down.
func (n *Node) Close() error {
	n.cancel()
	if n.dht != nil {
		n.dht.Close()
	}
	return n.host.Close()
}

// ID returns the host's peer ID string.
func (n *Node) ID() string {
	return n.host.ID().String()
}
