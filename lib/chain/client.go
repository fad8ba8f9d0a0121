// Package chain scans wallet scripts against a chain data backend and
// broadcasts transactions through it.
package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// Client runs wallet level operations on top of a Source.
type Client struct {
	source Source
}

// NewClient wraps source.
func NewClient(source Source) *Client {
	return &Client{source: source}
}

// Broadcast submits tx and checks the backend agrees on its txid.
func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	txid, err := c.source.Broadcast(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("error broadcasting transaction: %w", err)
	}
	if expected := tx.TxHash(); txid != expected {
		return chainhash.Hash{}, fmt.Errorf("%w: sent %s, got %s", ErrTxIDMismatch, expected, txid)
	}
	log.WithField("txid", txid).Info("transaction broadcast")
	return txid, nil
}

// EstimateFeeRate returns a sat/vB estimate for confirmation within target
// blocks when the backend supports it.
func (c *Client) EstimateFeeRate(ctx context.Context, target int) (float64, error) {
	estimator, ok := c.source.(FeeEstimator)
	if !ok {
		return 0, ErrNotSupported
	}
	return estimator.EstimateFee(ctx, target)
}

// Close releases the backend connection.
func (c *Client) Close() error {
	return c.source.Close()
}
