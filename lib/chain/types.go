package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

var (
	ErrNotSupported      = errors.New("operation not supported by chain backend")
	ErrTxIDMismatch      = errors.New("backend returned a different txid")
	ErrInvalidScanParams = errors.New("stop gap and parallel requests must be positive")
)

// TxStatus is where a transaction sits in the chain.
type TxStatus struct {
	Confirmed   bool
	BlockHeight int32
	BlockTime   int64
}

// HistoryTx is one entry of a script's history.
type HistoryTx struct {
	Txid   chainhash.Hash
	Status TxStatus
	// Prevouts holds the outputs spent by the transaction when the backend
	// reports them. It may be nil.
	Prevouts map[wire.OutPoint]*wire.TxOut
}

// Source is a chain data backend.
type Source interface {
	ScriptHistory(ctx context.Context, script []byte) ([]HistoryTx, error)
	Transaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
	Close() error
}

// TipSource is implemented by backends that can report the chain tip.
type TipSource interface {
	TipHeight(ctx context.Context) (int32, error)
}

// FeeEstimator is implemented by backends that can estimate fee rates.
type FeeEstimator interface {
	// EstimateFee returns a fee rate in sat/vB for confirmation within
	// target blocks.
	EstimateFee(ctx context.Context, target int) (float64, error)
}

// KeychainScripts derives the scripts of one keychain by index.
type KeychainScripts struct {
	Keychain descriptor.Keychain
	Script   func(index uint32) ([]byte, error)
}

// ScanRequest describes a full scan.
type ScanRequest struct {
	Keychains []KeychainScripts
	// KnownTxs lists transactions whose raw data the caller already has.
	KnownTxs map[chainhash.Hash]bool
}

// TxUpdate is a relevant transaction found by a scan. Tx is nil when the
// caller listed it in ScanRequest.KnownTxs.
type TxUpdate struct {
	Txid   chainhash.Hash
	Tx     *wire.MsgTx
	Status TxStatus
}

// Update is the result of a full scan.
type Update struct {
	LastActiveIndices map[descriptor.Keychain]uint32
	Txs               []TxUpdate
	Prevouts          map[wire.OutPoint]*wire.TxOut
	// TipHeight is zero when the backend cannot report it.
	TipHeight int32
}
