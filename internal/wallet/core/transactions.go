package core

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/exp/slices"
)

// BlockTime is where a transaction confirmed.
type BlockTime struct {
	Height    int32
	Timestamp time.Time
}

// TxDetails is a wallet transaction seen from the wallet's side.
type TxDetails struct {
	Txid chainhash.Hash
	Tx   *wire.MsgTx
	// Received is what the transaction pays to wallet scripts.
	Received btcutil.Amount
	// Sent is the value of the wallet outputs it spends.
	Sent btcutil.Amount
	// Fee is nil when some input's previous output is unknown.
	Fee *btcutil.Amount
	// ConfirmationTime is nil while unconfirmed.
	ConfirmationTime *BlockTime
	// LastSeen is when an unconfirmed transaction was last seen.
	LastSeen time.Time
}

// Net is the change the transaction makes to the wallet balance.
func (d *TxDetails) Net() btcutil.Amount {
	return d.Received - d.Sent
}

// Confirmed reports whether the transaction is in a block.
func (d *TxDetails) Confirmed() bool {
	return d.ConfirmationTime != nil
}

func (w *Wallet) details(txid chainhash.Hash, entry *txEntry) TxDetails {
	d := TxDetails{
		Txid:     txid,
		Tx:       entry.tx,
		LastSeen: time.Unix(entry.lastSeen, 0),
	}

	var totalOut btcutil.Amount
	for _, out := range entry.tx.TxOut {
		totalOut += btcutil.Amount(out.Value)
		if _, ok := w.scripts[string(out.PkScript)]; ok {
			d.Received += btcutil.Amount(out.Value)
		}
	}

	var totalIn btcutil.Amount
	known := true
	for _, in := range entry.tx.TxIn {
		prev := w.prevOut(in.PreviousOutPoint)
		if prev == nil {
			known = false
			continue
		}
		totalIn += btcutil.Amount(prev.Value)
		if _, ok := w.scripts[string(prev.PkScript)]; ok {
			d.Sent += btcutil.Amount(prev.Value)
		}
	}
	if known {
		fee := totalIn - totalOut
		d.Fee = &fee
	}

	if entry.confirmed {
		d.ConfirmationTime = &BlockTime{
			Height:    entry.blockHeight,
			Timestamp: time.Unix(entry.blockTime, 0),
		}
	}
	return d
}

// GetTx returns the details of a stored transaction.
func (w *Wallet) GetTx(txid chainhash.Hash) (*TxDetails, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entry, ok := w.txs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}
	d := w.details(txid, entry)
	return &d, nil
}

// ListTransactions returns every stored transaction, newest first:
// unconfirmed by last seen, then confirmed by height.
func (w *Wallet) ListTransactions() []TxDetails {
	w.mu.RLock()
	defer w.mu.RUnlock()

	list := make([]TxDetails, 0, len(w.txs))
	for txid, entry := range w.txs {
		list = append(list, w.details(txid, entry))
	}

	slices.SortFunc(list, func(a, b TxDetails) int {
		switch {
		case a.Confirmed() != b.Confirmed():
			if a.Confirmed() {
				return 1
			}
			return -1
		case a.Confirmed() && a.ConfirmationTime.Height != b.ConfirmationTime.Height:
			return int(b.ConfirmationTime.Height - a.ConfirmationTime.Height)
		case !a.Confirmed() && !a.LastSeen.Equal(b.LastSeen):
			return b.LastSeen.Compare(a.LastSeen)
		default:
			return slices.Compare(a.Txid[:], b.Txid[:])
		}
	})
	return list
}
