package p2p

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/rs/zerolog"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/tx"
)

// TxHandler is called for every transaction received from a peer.
type TxHandler func(*tx.Transaction)

// BlockHandler is called for every block received from a peer.
type BlockHandler func(*block.Block)

// Gossip publishes and receives transactions and blocks on pubsub topics.
type Gossip struct {
	txTopic    *pubsub.Topic
	blockTopic *pubsub.Topic
	logger     zerolog.Logger
}

// newGossip joins the per-network topics.
func newGossip(ctx context.Context, ps *pubsub.PubSub, network config.NetworkType, logger zerolog.Logger) (*Gossip, error) {
	txTopic, err := ps.Join(fmt.Sprintf("pacd/%s/tx", network))
	if err != nil {
		return nil, fmt.Errorf("join tx topic: %w", err)
	}
	blockTopic, err := ps.Join(fmt.Sprintf("pacd/%s/block", network))
	if err != nil {
		return nil, fmt.Errorf("join block topic: %w", err)
	}
	return &Gossip{
		txTopic:    txTopic,
		blockTopic: blockTopic,
		logger:     logger,
	}, nil
}

// BroadcastTx publishes a transaction to peers.
func (g *Gossip) BroadcastTx(ctx context.Context, transaction *tx.Transaction) error {
	data, err := json.Marshal(transaction)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}
	return g.txTopic.Publish(ctx, data)
}

// BroadcastBlock publishes a block to peers.
func (g *Gossip) BroadcastBlock(ctx context.Context, blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	return g.blockTopic.Publish(ctx, data)
}

// SubscribeTx delivers peer transactions to the handler until ctx ends.
// Malformed messages are dropped silently; rule violations are the
// receiver's concern.
func (g *Gossip) SubscribeTx(ctx context.Context, selfID string, handler TxHandler) error {
	sub, err := g.txTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe tx topic: %w", err)
	}

	go func() {
		defer sub.Cancel()
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom.String() == selfID {
				continue
			}
			var transaction tx.Transaction
			if err := json.Unmarshal(msg.Data, &transaction); err != nil {
				g.logger.Debug().Err(err).Msg("Dropping malformed tx gossip")
				continue
			}
			handler(&transaction)
		}
	}()
	return nil
}

// SubscribeBlocks delivers peer blocks to the handler until ctx ends.
func (g *Gossip) SubscribeBlocks(ctx context.Context, selfID string, handler BlockHandler) error {
	sub, err := g.blockTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe block topic: %w", err)
	}

	go func() {
		defer sub.Cancel()
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom.String() == selfID {
				continue
			}
			var blk block.Block
			if err := json.Unmarshal(msg.Data, &blk); err != nil {
				g.logger.Debug().Err(err).Msg("Dropping malformed block gossip")
				continue
			}
			handler(&blk)
		}
	}()
	return nil
}
