package core

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"

	walletstatedb "github.com/Maphikza/devkit-wallet/internal/database"
	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

// AddressIndex selects which address GetAddress returns.
type AddressIndex struct {
	kind  addressIndexKind
	index uint32
}

type addressIndexKind uint8

const (
	indexNew addressIndexKind = iota
	indexLastUnused
	indexPeek
)

var (
	// New reveals the next address.
	New = AddressIndex{kind: indexNew}
	// LastUnused returns the last revealed address if it has not received
	// anything, and reveals a new one otherwise.
	LastUnused = AddressIndex{kind: indexLastUnused}
)

// Peek derives the address at index without revealing it.
func Peek(index uint32) AddressIndex {
	return AddressIndex{kind: indexPeek, index: index}
}

// AddressInfo is a derived address.
type AddressInfo struct {
	Index    uint32
	Address  btcutil.Address
	Keychain descriptor.Keychain
}

// GetAddress returns an external address.
func (w *Wallet) GetAddress(index AddressIndex) (*AddressInfo, error) {
	return w.getAddress(descriptor.External, index)
}

// GetInternalAddress returns a change address. Without a change descriptor
// it is an external address.
func (w *Wallet) GetInternalAddress(index AddressIndex) (*AddressInfo, error) {
	return w.getAddress(w.changeKeychain(), index)
}

func (w *Wallet) getAddress(keychain descriptor.Keychain, index AddressIndex) (*AddressInfo, error) {
	if index.kind == indexPeek {
		return w.addressAt(keychain, index.index)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	last, err := w.lastRevealed(w.store, keychain)
	if err != nil {
		return nil, err
	}

	if index.kind == indexLastUnused && last >= 0 {
		addr, err := w.store.GetAddress(keychain.String(), uint32(last))
		if err != nil {
			return nil, fmt.Errorf("failed to get address %d: %w", last, err)
		}
		if addr.Status != walletstatedb.AddressStatusUsed {
			return w.addressAt(keychain, uint32(last))
		}
	}

	next := uint32(last + 1)
	err = w.store.Transaction(func(tx *walletstatedb.Store) error {
		if err := w.deriveUpTo(tx, keychain, next+Lookahead); err != nil {
			return err
		}
		return tx.AllocateAddresses(keychain.String(), next)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reveal address %d: %w", next, err)
	}
	if err := w.load(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"keychain": keychain,
		"index":    next,
	}).Debug("address revealed")

	return w.addressAt(keychain, next)
}

func (w *Wallet) addressAt(keychain descriptor.Keychain, index uint32) (*AddressInfo, error) {
	addr, err := w.descriptorFor(keychain).Address(index)
	if err != nil {
		return nil, err
	}
	return &AddressInfo{Index: index, Address: addr, Keychain: keychain}, nil
}

// lastRevealed returns the highest handed out index of keychain, or -1.
func (w *Wallet) lastRevealed(store *walletstatedb.Store, keychain descriptor.Keychain) (int64, error) {
	last, err := store.GetLastAllocatedIndex(keychain.String())
	if err != nil {
		return -1, fmt.Errorf("failed to get last revealed index: %w", err)
	}
	return last, nil
}

// deriveUpTo stores the scripts of keychain up to and including index.
func (w *Wallet) deriveUpTo(store *walletstatedb.Store, keychain descriptor.Keychain, index uint32) error {
	last, err := store.GetLastAddressIndex(keychain.String())
	if err != nil {
		return fmt.Errorf("failed to get last derived index: %w", err)
	}
	if last >= int64(index) {
		return nil
	}

	desc := w.descriptorFor(keychain)
	addrs := make([]walletstatedb.SQLiteAddress, 0, int64(index)-last)
	for i := uint32(last + 1); i <= index; i++ {
		addr, err := desc.Address(i)
		if err != nil {
			return fmt.Errorf("failed to derive address %d: %w", i, err)
		}
		script, err := desc.Script(i)
		if err != nil {
			return fmt.Errorf("failed to derive script %d: %w", i, err)
		}
		addrs = append(addrs, walletstatedb.SQLiteAddress{
			Keychain:        keychain.String(),
			DerivationIndex: i,
			Address:         addr.EncodeAddress(),
			Script:          script,
			Status:          walletstatedb.AddressStatusAvailable,
		})
	}
	return store.SaveAddresses(addrs)
}

// ChangeScript returns the script of the last unused change address.
func (w *Wallet) ChangeScript() ([]byte, error) {
	info, err := w.GetInternalAddress(LastUnused)
	if err != nil {
		return nil, err
	}
	return w.descriptorFor(info.Keychain).Script(info.Index)
}

// IsMine reports whether script belongs to a derived address.
func (w *Wallet) IsMine(script []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.scripts[string(script)]
	return ok
}

// Derivation returns the BIP32 origin of the key at index on keychain.
func (w *Wallet) Derivation(keychain descriptor.Keychain, index uint32) (*psbt.Bip32Derivation, error) {
	return w.descriptorFor(keychain).Bip32Derivation(index)
}
