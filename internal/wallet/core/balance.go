package core

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/Maphikza/devkit-wallet/lib/transaction"
)

// Balance splits the wallet funds by how settled they are.
type Balance struct {
	// Immature is coinbase output that cannot be spent yet.
	Immature btcutil.Amount
	// TrustedPending is unconfirmed output of transactions the wallet
	// funded itself.
	TrustedPending btcutil.Amount
	// UntrustedPending is unconfirmed output received from others.
	UntrustedPending btcutil.Amount
	Confirmed        btcutil.Amount
}

// Spendable is what coin selection may use.
func (b Balance) Spendable() btcutil.Amount {
	return b.Confirmed + b.TrustedPending + b.UntrustedPending
}

// Total is every bucket added up.
func (b Balance) Total() btcutil.Amount {
	return b.Immature + b.Spendable()
}

type ownedOutput struct {
	utxo  transaction.Utxo
	entry *txEntry
}

// unspent walks the stored transactions in a stable order and returns the
// owned outputs nothing spends. Callers hold w.mu.
func (w *Wallet) unspent() []ownedOutput {
	spent := make(map[wire.OutPoint]bool)
	for _, entry := range w.txs {
		for _, in := range entry.tx.TxIn {
			spent[in.PreviousOutPoint] = true
		}
	}

	txids := maps.Keys(w.txs)
	slices.SortFunc(txids, func(a, b chainhash.Hash) int {
		return slices.Compare(a[:], b[:])
	})

	var outputs []ownedOutput
	for _, txid := range txids {
		entry := w.txs[txid]
		for i, out := range entry.tx.TxOut {
			info, ok := w.scripts[string(out.PkScript)]
			if !ok {
				continue
			}
			op := wire.OutPoint{Hash: txid, Index: uint32(i)}
			if spent[op] {
				continue
			}
			outputs = append(outputs, ownedOutput{
				utxo: transaction.Utxo{
					OutPoint:  op,
					TxOut:     out,
					Keychain:  info.keychain,
					Index:     info.index,
					Confirmed: entry.confirmed,
					PrevTx:    entry.tx,
				},
				entry: entry,
			})
		}
	}
	return outputs
}

// immature reports whether entry is a coinbase that has not matured at the
// current tip.
func (w *Wallet) immature(entry *txEntry) bool {
	if !blockchain.IsCoinBaseTx(entry.tx) {
		return false
	}
	if !entry.confirmed || w.tipHeight == 0 {
		return true
	}
	confirmations := w.tipHeight - entry.blockHeight + 1
	return confirmations < int32(w.params.CoinbaseMaturity)
}

// trusted reports whether entry spends at least one wallet output.
func (w *Wallet) trusted(entry *txEntry) bool {
	for _, in := range entry.tx.TxIn {
		if out := w.prevOut(in.PreviousOutPoint); out != nil {
			if _, ok := w.scripts[string(out.PkScript)]; ok {
				return true
			}
		}
	}
	return false
}

// prevOut looks an output up among stored transactions, then among the
// previous outputs reported by the backend.
func (w *Wallet) prevOut(op wire.OutPoint) *wire.TxOut {
	if entry, ok := w.txs[op.Hash]; ok && int(op.Index) < len(entry.tx.TxOut) {
		return entry.tx.TxOut[op.Index]
	}
	return w.prevouts[op]
}

// ListUnspent returns the spendable outputs, immature coinbase excluded.
func (w *Wallet) ListUnspent() ([]transaction.Utxo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	outputs := w.unspent()
	utxos := make([]transaction.Utxo, 0, len(outputs))
	for _, o := range outputs {
		if !w.immature(o.entry) {
			utxos = append(utxos, o.utxo)
		}
	}
	return utxos, nil
}

// Balance sums the unspent outputs by bucket.
func (w *Wallet) Balance() Balance {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var balance Balance
	for _, o := range w.unspent() {
		value := btcutil.Amount(o.utxo.TxOut.Value)
		switch {
		case w.immature(o.entry):
			balance.Immature += value
		case o.entry.confirmed:
			balance.Confirmed += value
		case w.trusted(o.entry):
			balance.TrustedPending += value
		default:
			balance.UntrustedPending += value
		}
	}
	return balance
}

// Output returns the owned output at op whether or not it is spent.
func (w *Wallet) Output(op wire.OutPoint) (*transaction.Utxo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entry, ok := w.txs[op.Hash]
	if !ok || int(op.Index) >= len(entry.tx.TxOut) {
		return nil, ErrTxNotFound
	}
	out := entry.tx.TxOut[op.Index]
	info, ok := w.scripts[string(out.PkScript)]
	if !ok {
		return nil, ErrNotMine
	}
	return &transaction.Utxo{
		OutPoint:  op,
		TxOut:     out,
		Keychain:  info.keychain,
		Index:     info.index,
		Confirmed: entry.confirmed,
		PrevTx:    entry.tx,
	}, nil
}

// Transaction returns a stored transaction and whether it is confirmed.
func (w *Wallet) Transaction(txid chainhash.Hash) (*wire.MsgTx, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entry, ok := w.txs[txid]
	if !ok {
		return nil, false, ErrTxNotFound
	}
	return entry.tx, entry.confirmed, nil
}
