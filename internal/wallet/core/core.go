// Package core is the wallet engine: it tracks the scripts derived from the
// wallet descriptors, the transactions touching them and the outputs they
// own, and signs PSBTs spending those outputs.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	walletstatedb "github.com/Maphikza/devkit-wallet/internal/database"
	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

const (
	// Lookahead is how many scripts past the last revealed index are kept
	// derived for ownership checks.
	Lookahead = 25
	// LocalBroadcastGrace keeps locally broadcast transactions a scan does
	// not return yet.
	LocalBroadcastGrace = time.Hour
)

var (
	ErrDescriptorMismatch = errors.New("descriptor does not match wallet database")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrNotMine            = errors.New("output not owned by wallet")
	ErrMissingUtxo        = errors.New("psbt input is missing its utxo")
)

type scriptInfo struct {
	keychain descriptor.Keychain
	index    uint32
}

type txEntry struct {
	tx             *wire.MsgTx
	confirmed      bool
	blockHeight    int32
	blockTime      int64
	lastSeen       int64
	localBroadcast bool
}

// Wallet is an open wallet. It is safe for concurrent use.
type Wallet struct {
	mu sync.RWMutex

	store    *walletstatedb.Store
	external *descriptor.Descriptor
	change   *descriptor.Descriptor
	params   *chaincfg.Params

	// Caches of the database, rebuilt by load.
	scripts   map[string]scriptInfo
	txs       map[chainhash.Hash]*txEntry
	prevouts  map[wire.OutPoint]*wire.TxOut
	tipHeight int32
}

// Open binds the descriptors to store. A fresh database records the
// descriptor checksums and network, an existing one must match them.
// change may be nil, in which case change goes to external addresses.
func Open(store *walletstatedb.Store, external, change *descriptor.Descriptor, params *chaincfg.Params) (*Wallet, error) {
	if external == nil {
		return nil, descriptor.ErrEmptyDescriptor
	}
	if external.Params().Net != params.Net {
		return nil, fmt.Errorf("%w: %s", descriptor.ErrNetworkMismatch, params.Name)
	}
	if change != nil && change.Params().Net != params.Net {
		return nil, fmt.Errorf("%w: %s", descriptor.ErrNetworkMismatch, params.Name)
	}

	w := &Wallet{
		store:    store,
		external: external,
		change:   change,
		params:   params,
	}

	if err := w.checkMetadata(); err != nil {
		return nil, err
	}
	for _, keychain := range w.keychains() {
		last, err := w.lastRevealed(store, keychain)
		if err != nil {
			return nil, err
		}
		if err := w.deriveUpTo(store, keychain, uint32(last+Lookahead)); err != nil {
			return nil, err
		}
	}
	if err := w.load(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"network":      params.Name,
		"transactions": len(w.txs),
		"change":       change != nil,
	}).Debug("wallet opened")

	return w, nil
}

func (w *Wallet) checkMetadata() error {
	externalSum, err := w.external.Checksum()
	if err != nil {
		return err
	}
	changeSum := ""
	if w.change != nil {
		if changeSum, err = w.change.Checksum(); err != nil {
			return err
		}
	}

	expected := []struct {
		key   string
		value string
	}{
		{walletstatedb.NetworkKey, w.params.Name},
		{walletstatedb.DescriptorChecksumKey, externalSum},
		{walletstatedb.ChangeDescriptorChecksumKey, changeSum},
	}

	return w.store.Transaction(func(tx *walletstatedb.Store) error {
		for _, e := range expected {
			stored, err := tx.GetMetadata(e.key)
			if errors.Is(err, walletstatedb.ErrNotFound) {
				if err := tx.SetMetadata(e.key, e.value); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if stored != e.value {
				return fmt.Errorf("%w: %s is %q, expected %q", ErrDescriptorMismatch, e.key, stored, e.value)
			}
		}
		return nil
	})
}

// load rebuilds the in-memory caches from the database.
func (w *Wallet) load() error {
	scripts := make(map[string]scriptInfo)
	for _, keychain := range w.keychains() {
		addrs, err := w.store.GetAddresses(keychain.String())
		if err != nil {
			return fmt.Errorf("failed to load addresses: %w", err)
		}
		for _, addr := range addrs {
			scripts[string(addr.Script)] = scriptInfo{keychain: keychain, index: addr.DerivationIndex}
		}
	}

	records, err := w.store.GetTransactions()
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	txs := make(map[chainhash.Hash]*txEntry, len(records))
	for _, rec := range records {
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(rec.RawTx)); err != nil {
			return fmt.Errorf("failed to decode transaction %s: %w", rec.TxID, err)
		}
		txs[tx.TxHash()] = &txEntry{
			tx:             tx,
			confirmed:      rec.Confirmed,
			blockHeight:    rec.BlockHeight,
			blockTime:      rec.BlockTime,
			lastSeen:       rec.LastSeen,
			localBroadcast: rec.LocalBroadcast,
		}
	}

	outs, err := w.store.GetTxOuts()
	if err != nil {
		return fmt.Errorf("failed to load previous outputs: %w", err)
	}
	prevouts := make(map[wire.OutPoint]*wire.TxOut, len(outs))
	for _, out := range outs {
		hash, err := chainhash.NewHashFromStr(out.TxID)
		if err != nil {
			return fmt.Errorf("invalid previous output txid %q: %w", out.TxID, err)
		}
		prevouts[wire.OutPoint{Hash: *hash, Index: out.Vout}] = wire.NewTxOut(out.Value, out.Script)
	}

	var tip int32
	if value, err := w.store.GetMetadata(walletstatedb.TipHeightKey); err == nil {
		if height, err := strconv.ParseInt(value, 10, 32); err == nil {
			tip = int32(height)
		}
	}

	w.scripts, w.txs, w.prevouts, w.tipHeight = scripts, txs, prevouts, tip
	return nil
}

// Params returns the wallet network.
func (w *Wallet) Params() *chaincfg.Params {
	return w.params
}

// PublicDescriptor returns the watch-only form of the keychain descriptor.
func (w *Wallet) PublicDescriptor(keychain descriptor.Keychain) (string, error) {
	return w.descriptorFor(keychain).PublicString()
}

// TipHeight is the chain height seen by the last sync, zero before any.
func (w *Wallet) TipHeight() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tipHeight
}

// Close closes the wallet database.
func (w *Wallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.Close()
}

func (w *Wallet) keychains() []descriptor.Keychain {
	if w.change == nil {
		return []descriptor.Keychain{descriptor.External}
	}
	return []descriptor.Keychain{descriptor.External, descriptor.Internal}
}

func (w *Wallet) descriptorFor(keychain descriptor.Keychain) *descriptor.Descriptor {
	if keychain == descriptor.Internal && w.change != nil {
		return w.change
	}
	return w.external
}

// changeKeychain is where change goes: the internal keychain when there is
// one, external otherwise.
func (w *Wallet) changeKeychain() descriptor.Keychain {
	if w.change == nil {
		return descriptor.External
	}
	return descriptor.Internal
}
