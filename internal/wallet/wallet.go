// Package wallet is the wallet façade: it owns the active wallet handle and
// the chain client, and exposes the wallet lifecycle and transaction flow on
// top of them.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/internal/config"
	walletstatedb "github.com/Maphikza/devkit-wallet/internal/database"
	"github.com/Maphikza/devkit-wallet/internal/wallet/core"
	"github.com/Maphikza/devkit-wallet/internal/wallet/repository"
	"github.com/Maphikza/devkit-wallet/lib/chain"
	"github.com/Maphikza/devkit-wallet/lib/descriptor"
	"github.com/Maphikza/devkit-wallet/lib/keys"
)

var (
	// ErrNoWallet is returned by LoadExistingWallet when nothing was saved.
	ErrNoWallet = repository.ErrNoWallet
	// ErrNotLoaded is returned by operations that need an active wallet.
	ErrNotLoaded = errors.New("no wallet loaded")
)

// Repository persists the wallet descriptors and recovery phrase.
type Repository interface {
	SaveWallet(descriptor, changeDescriptor, mnemonic string) error
	GetInitialWalletData() (repository.InitialWalletData, error)
	GetMnemonic() (string, error)
	HasWallet() bool
	Clear() error
}

// ChainClient is the chain data service the wallet syncs from and
// broadcasts through.
type ChainClient interface {
	FullScan(ctx context.Context, req chain.ScanRequest, stopGap, parallelRequests int) (*chain.Update, error)
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
	EstimateFeeRate(ctx context.Context, target int) (float64, error)
	Close() error
}

// Wallet holds at most one active wallet handle. Creating, recovering or
// loading a wallet replaces the handle.
type Wallet struct {
	cfg    *config.Config
	params *chaincfg.Params
	repo   Repository
	client ChainClient

	mu     sync.RWMutex
	handle *core.Wallet
}

// New returns a façade with no wallet loaded.
func New(cfg *config.Config, repo Repository, client ChainClient) (*Wallet, error) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	return &Wallet{
		cfg:    cfg,
		params: params,
		repo:   repo,
		client: client,
	}, nil
}

// Params returns the network the wallet runs on.
func (w *Wallet) Params() *chaincfg.Params {
	return w.params
}

// CreateWallet generates a fresh 12 word wallet, replacing any local wallet
// database, and persists its descriptor and recovery phrase.
func (w *Wallet) CreateWallet() error {
	mnemonic, err := keys.NewMnemonic(keys.Words12)
	if err != nil {
		return fmt.Errorf("error generating mnemonic: %w", err)
	}
	if err := w.initialize(mnemonic); err != nil {
		return err
	}
	log.WithField("network", w.params.Name).Info("wallet created")
	return nil
}

// RecoverWallet restores the wallet of phrase.
func (w *Wallet) RecoverWallet(phrase string) error {
	mnemonic, err := keys.MnemonicFromString(phrase)
	if err != nil {
		return err
	}
	if err := w.initialize(mnemonic); err != nil {
		return err
	}
	log.WithField("network", w.params.Name).Info("wallet recovered")
	return nil
}

func (w *Wallet) initialize(mnemonic *keys.Mnemonic) error {
	secret, err := keys.NewDescriptorSecretKey(w.params, mnemonic, "")
	if err != nil {
		return fmt.Errorf("error deriving root key: %w", err)
	}
	external, err := descriptor.NewBIP84(secret.Root(), descriptor.External, w.params)
	if err != nil {
		return fmt.Errorf("error building descriptor: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// The repository is written first, so a failed save leaves the saved
	// wallet and its database untouched.
	w.closeHandle()
	if err := w.repo.SaveWallet(external.String(), "", mnemonic.String()); err != nil {
		return fmt.Errorf("error saving wallet: %w", err)
	}
	if err := w.removeDatabase(); err != nil {
		return err
	}
	return w.open(external, nil)
}

// HasWallet reports whether a wallet has been saved.
func (w *Wallet) HasWallet() bool {
	return w.repo.HasWallet()
}

// DeleteWallet closes the active wallet and removes its database and saved
// descriptors. The saved data must be readable, so a sealed repository needs
// its passphrase.
func (w *Wallet) DeleteWallet() error {
	if _, err := w.repo.GetInitialWalletData(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeHandle()
	if err := w.removeDatabase(); err != nil {
		return err
	}
	if err := w.repo.Clear(); err != nil {
		return err
	}
	log.WithField("network", w.params.Name).Info("wallet deleted")
	return nil
}

func (w *Wallet) removeDatabase() error {
	if err := os.Remove(w.cfg.WalletDBPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing old wallet database: %w", err)
	}
	return nil
}

// LoadExistingWallet opens the wallet saved in the repository.
func (w *Wallet) LoadExistingWallet() error {
	data, err := w.repo.GetInitialWalletData()
	if err != nil {
		return err
	}

	external, err := descriptor.Parse(data.Descriptor, w.params)
	if err != nil {
		return fmt.Errorf("error parsing descriptor: %w", err)
	}
	var change *descriptor.Descriptor
	if data.ChangeDescriptor != "" {
		change, err = descriptor.Parse(data.ChangeDescriptor, w.params)
		if err != nil {
			return fmt.Errorf("error parsing change descriptor: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeHandle()
	if err := w.open(external, change); err != nil {
		return err
	}
	log.WithField("network", w.params.Name).Info("wallet loaded")
	return nil
}

// open must be called with mu held.
func (w *Wallet) open(external, change *descriptor.Descriptor) error {
	store, err := walletstatedb.InitSQLiteDB(w.cfg.WalletDBPath())
	if err != nil {
		return err
	}
	handle, err := core.Open(store, external, change, w.params)
	if err != nil {
		store.Close()
		return fmt.Errorf("error opening wallet: %w", err)
	}
	w.handle = handle
	return nil
}

// closeHandle must be called with mu held.
func (w *Wallet) closeHandle() {
	if w.handle == nil {
		return
	}
	if err := w.handle.Close(); err != nil {
		log.WithError(err).Warn("error closing wallet database")
	}
	w.handle = nil
}

func (w *Wallet) active() (*core.Wallet, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.handle == nil {
		return nil, ErrNotLoaded
	}
	return w.handle, nil
}

// Loaded reports whether a wallet is active.
func (w *Wallet) Loaded() bool {
	_, err := w.active()
	return err == nil
}

// Mnemonic returns the saved recovery phrase.
func (w *Wallet) Mnemonic() (string, error) {
	return w.repo.GetMnemonic()
}

// PublicDescriptor returns the watch-only external descriptor.
func (w *Wallet) PublicDescriptor() (string, error) {
	handle, err := w.active()
	if err != nil {
		return "", err
	}
	return handle.PublicDescriptor(descriptor.External)
}

// Sync scans the wallet scripts against the chain backend and applies the
// result.
func (w *Wallet) Sync(ctx context.Context) error {
	handle, err := w.active()
	if err != nil {
		return err
	}

	update, err := w.client.FullScan(ctx, handle.ScanRequest(), w.cfg.StopGap, w.cfg.ParallelRequests)
	if err != nil {
		return fmt.Errorf("error syncing wallet: %w", err)
	}
	return handle.ApplyUpdate(update)
}

// GetBalance returns the balance as of the last sync.
func (w *Wallet) GetBalance() (core.Balance, error) {
	handle, err := w.active()
	if err != nil {
		return core.Balance{}, err
	}
	return handle.Balance(), nil
}

// GetNewAddress reveals the next receive address.
func (w *Wallet) GetNewAddress() (*core.AddressInfo, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}
	return handle.GetAddress(core.New)
}

// GetLastUnusedAddress returns the last revealed receive address that has
// not received funds, revealing a new one when all of them have.
func (w *Wallet) GetLastUnusedAddress() (*core.AddressInfo, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}
	return handle.GetAddress(core.LastUnused)
}

// Close closes the active wallet and the chain client.
func (w *Wallet) Close() error {
	w.mu.Lock()
	w.closeHandle()
	w.mu.Unlock()

	if w.client == nil {
		return nil
	}
	return w.client.Close()
}
