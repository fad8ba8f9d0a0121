package core

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	walletstatedb "github.com/Maphikza/devkit-wallet/internal/database"
	"github.com/Maphikza/devkit-wallet/lib/chain"
	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

// ScanRequest describes a full scan of every wallet keychain.
func (w *Wallet) ScanRequest() chain.ScanRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()

	req := chain.ScanRequest{KnownTxs: make(map[chainhash.Hash]bool, len(w.txs))}
	for _, keychain := range w.keychains() {
		desc := w.descriptorFor(keychain)
		req.Keychains = append(req.Keychains, chain.KeychainScripts{
			Keychain: keychain,
			Script:   desc.Script,
		})
	}
	for txid := range w.txs {
		req.KnownTxs[txid] = true
	}
	return req
}

// ApplyUpdate merges the result of a full scan into the wallet.
func (w *Wallet) ApplyUpdate(update *chain.Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	seen := make(map[chainhash.Hash]bool, len(update.Txs))
	spentByUpdate := make(map[wire.OutPoint]chainhash.Hash)

	err := w.store.Transaction(func(store *walletstatedb.Store) error {
		for _, txUpdate := range update.Txs {
			seen[txUpdate.Txid] = true

			tx := txUpdate.Tx
			if tx == nil {
				entry, ok := w.txs[txUpdate.Txid]
				if !ok {
					return fmt.Errorf("%w: %s missing from scan", ErrTxNotFound, txUpdate.Txid)
				}
				tx = entry.tx
			}
			for _, in := range tx.TxIn {
				spentByUpdate[in.PreviousOutPoint] = txUpdate.Txid
			}

			if err := w.saveTx(store, tx, txUpdate.Status, now, false); err != nil {
				return err
			}
		}

		if err := w.dropStale(store, seen, spentByUpdate, now); err != nil {
			return err
		}

		outs := make([]walletstatedb.SQLiteTxOut, 0, len(update.Prevouts))
		for op, out := range update.Prevouts {
			outs = append(outs, walletstatedb.SQLiteTxOut{
				TxID:   op.Hash.String(),
				Vout:   op.Index,
				Value:  out.Value,
				Script: out.PkScript,
			})
		}
		if err := store.SaveTxOuts(outs); err != nil {
			return fmt.Errorf("failed to save previous outputs: %w", err)
		}

		for keychain, index := range update.LastActiveIndices {
			if keychain == descriptor.Internal && w.change == nil {
				continue
			}
			if err := w.deriveUpTo(store, keychain, index+Lookahead); err != nil {
				return err
			}
			if err := store.AllocateAddresses(keychain.String(), index); err != nil {
				return fmt.Errorf("failed to reveal addresses: %w", err)
			}
		}

		if update.TipHeight > 0 {
			if err := store.SetMetadata(walletstatedb.TipHeightKey, strconv.Itoa(int(update.TipHeight))); err != nil {
				return err
			}
		}
		return store.SetMetadata(walletstatedb.LastSyncKey, strconv.FormatInt(now.Unix(), 10))
	})
	if err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}

	if err := w.load(); err != nil {
		return err
	}
	// Scripts revealed above may own outputs of transactions saved before
	// they were in the cache.
	if err := w.markUsed(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"transactions": len(update.Txs),
		"tip":          update.TipHeight,
	}).Info("wallet synced")
	return nil
}

// InsertTx records a transaction the wallet just broadcast. Unconfirmed
// transactions it double spends are dropped.
func (w *Wallet) InsertTx(tx *wire.MsgTx) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	txid := tx.TxHash()
	spent := make(map[wire.OutPoint]chainhash.Hash, len(tx.TxIn))
	for _, in := range tx.TxIn {
		spent[in.PreviousOutPoint] = txid
	}

	err := w.store.Transaction(func(store *walletstatedb.Store) error {
		if err := w.saveTx(store, tx, chain.TxStatus{}, now, true); err != nil {
			return err
		}
		return w.dropConflicts(store, spent)
	})
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := w.load(); err != nil {
		return err
	}
	return w.markUsed()
}

func (w *Wallet) saveTx(store *walletstatedb.Store, tx *wire.MsgTx, status chain.TxStatus, now time.Time, local bool) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize transaction: %w", err)
	}

	txid := tx.TxHash()
	record := &walletstatedb.SQLiteTransaction{
		TxID:           txid.String(),
		RawTx:          buf.Bytes(),
		Confirmed:      status.Confirmed,
		BlockHeight:    status.BlockHeight,
		BlockTime:      status.BlockTime,
		LastSeen:       now.Unix(),
		LocalBroadcast: local,
	}
	if entry, ok := w.txs[txid]; ok && status.Confirmed {
		record.LastSeen = entry.lastSeen
	}
	if err := store.SaveTransaction(record); err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", txid, err)
	}
	return nil
}

// dropStale removes unconfirmed transactions the scan no longer returns,
// keeping recent local broadcasts that do not conflict with the scan.
func (w *Wallet) dropStale(store *walletstatedb.Store, seen map[chainhash.Hash]bool, spent map[wire.OutPoint]chainhash.Hash, now time.Time) error {
	for txid, entry := range w.txs {
		if entry.confirmed || seen[txid] {
			continue
		}

		conflicted := false
		for _, in := range entry.tx.TxIn {
			if other, ok := spent[in.PreviousOutPoint]; ok && other != txid {
				conflicted = true
				break
			}
		}
		recent := entry.localBroadcast && now.Sub(time.Unix(entry.lastSeen, 0)) < LocalBroadcastGrace
		if recent && !conflicted {
			continue
		}

		if err := store.DeleteTransaction(txid.String()); err != nil {
			return fmt.Errorf("failed to drop transaction %s: %w", txid, err)
		}
		log.WithField("txid", txid).Debug("dropped unconfirmed transaction missing from scan")
	}
	return nil
}

// dropConflicts removes unconfirmed transactions spending an outpoint in
// spent with a different transaction.
func (w *Wallet) dropConflicts(store *walletstatedb.Store, spent map[wire.OutPoint]chainhash.Hash) error {
	for txid, entry := range w.txs {
		if entry.confirmed {
			continue
		}
		for _, in := range entry.tx.TxIn {
			if other, ok := spent[in.PreviousOutPoint]; ok && other != txid {
				if err := store.DeleteTransaction(txid.String()); err != nil {
					return fmt.Errorf("failed to drop replaced transaction %s: %w", txid, err)
				}
				log.WithFields(log.Fields{
					"txid":        txid,
					"replaced_by": other,
				}).Info("dropped replaced transaction")
				break
			}
		}
	}
	return nil
}

// markUsed flags every derived address with an output paying it.
func (w *Wallet) markUsed() error {
	for _, entry := range w.txs {
		for _, out := range entry.tx.TxOut {
			if _, ok := w.scripts[string(out.PkScript)]; !ok {
				continue
			}
			height := int32(0)
			if entry.confirmed {
				height = entry.blockHeight
			}
			if err := w.store.MarkAddressAsUsed(out.PkScript, height); err != nil {
				return fmt.Errorf("failed to mark address as used: %w", err)
			}
		}
	}
	return nil
}
