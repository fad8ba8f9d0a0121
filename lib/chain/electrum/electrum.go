// Package electrum is a chain.Source backed by an Electrum server.
package electrum

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/checksum0/go-electrum/electrum"
	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/lib/chain"
)

var (
	ErrInvalidServer = errors.New("invalid electrum server url")
	ErrNoFeeEstimate = errors.New("electrum server has no fee estimate")
)

// Client is the part of the Electrum protocol the wallet uses.
// *electrum.Client satisfies it.
type Client interface {
	GetHistory(ctx context.Context, scripthash string) ([]*electrum.GetMempoolResult, error)
	GetRawTransaction(ctx context.Context, txHash string) (string, error)
	BroadcastTransaction(ctx context.Context, rawTx string) (string, error)
	GetFee(ctx context.Context, target uint32) (float32, error)
	SubscribeHeaders(ctx context.Context) (<-chan *electrum.SubscribeHeadersResult, error)
	Ping(ctx context.Context) error
	Shutdown()
}

// ParseServer splits server, given as ssl://host:port or tcp://host:port,
// into its scheme and address. A bare host:port is treated as ssl.
func ParseServer(server string) (scheme, addr string, err error) {
	scheme, addr, found := strings.Cut(server, "://")
	if !found {
		scheme, addr = "ssl", server
	}
	scheme = strings.ToLower(scheme)
	if addr == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidServer, server)
	}
	switch scheme {
	case "ssl", "tls", "tcp":
		return scheme, addr, nil
	default:
		return "", "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidServer, scheme)
	}
}

// Dial connects to server, see ParseServer for its format.
func Dial(ctx context.Context, server string) (*electrum.Client, error) {
	scheme, addr, err := ParseServer(server)
	if err != nil {
		return nil, err
	}

	log.WithField("server", server).Debug("connecting to electrum server")

	if scheme == "tcp" {
		return electrum.NewClientTCP(ctx, addr)
	}
	return electrum.NewClientSSL(ctx, addr, &tls.Config{})
}

// Source adapts an Electrum client to chain.Source.
type Source struct {
	client Client
}

// NewSource wraps client.
func NewSource(client Client) *Source {
	return &Source{client: client}
}

// ScriptHash is the Electrum script hash: the reversed sha256 of script, hex
// encoded.
func ScriptHash(script []byte) string {
	hash := sha256.Sum256(script)
	for i, j := 0, len(hash)-1; i < j; i, j = i+1, j-1 {
		hash[i], hash[j] = hash[j], hash[i]
	}
	return hex.EncodeToString(hash[:])
}

// ScriptHistory returns the confirmed and mempool history of script.
func (s *Source) ScriptHistory(ctx context.Context, script []byte) ([]chain.HistoryTx, error) {
	results, err := s.client.GetHistory(ctx, ScriptHash(script))
	if err != nil {
		return nil, fmt.Errorf("error fetching history: %w", err)
	}

	history := make([]chain.HistoryTx, 0, len(results))
	for _, res := range results {
		txid, err := chainhash.NewHashFromStr(res.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q: %w", res.Hash, err)
		}
		// Mempool entries carry height 0, or -1 with unconfirmed parents.
		status := chain.TxStatus{}
		if res.Height > 0 {
			status.Confirmed = true
			status.BlockHeight = res.Height
		}
		history = append(history, chain.HistoryTx{Txid: *txid, Status: status})
	}
	return history, nil
}

// Transaction fetches and decodes a raw transaction.
func (s *Source) Transaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	rawHex, err := s.client.GetRawTransaction(ctx, txid.String())
	if err != nil {
		return nil, fmt.Errorf("error fetching transaction: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(rawHex))
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return tx, nil
}

// Broadcast sends tx to the server.
func (s *Source) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, err
	}
	resp, err := s.client.BroadcastTransaction(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return chainhash.Hash{}, err
	}
	txid, err := chainhash.NewHashFromStr(strings.TrimSpace(resp))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid txid in broadcast response: %w", err)
	}
	return *txid, nil
}

// TipHeight reads the current header from a headers subscription.
func (s *Source) TipHeight(ctx context.Context) (int32, error) {
	headers, err := s.client.SubscribeHeaders(ctx)
	if err != nil {
		return 0, fmt.Errorf("error subscribing to headers: %w", err)
	}
	select {
	case header, ok := <-headers:
		if !ok || header == nil {
			return 0, errors.New("headers subscription closed")
		}
		return header.Height, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// EstimateFee converts the server's BTC/kvB estimate to sat/vB.
func (s *Source) EstimateFee(ctx context.Context, target int) (float64, error) {
	btcPerKvB, err := s.client.GetFee(ctx, uint32(target))
	if err != nil {
		return 0, err
	}
	if btcPerKvB <= 0 {
		return 0, ErrNoFeeEstimate
	}
	return float64(btcPerKvB) * 1e8 / 1000, nil
}

// Ping checks the connection is alive.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close shuts the connection down.
func (s *Source) Close() error {
	s.client.Shutdown()
	return nil
}
