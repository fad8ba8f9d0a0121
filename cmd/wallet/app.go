package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/internal/config"
	"github.com/Maphikza/devkit-wallet/internal/logger"
	"github.com/Maphikza/devkit-wallet/internal/wallet"
	"github.com/Maphikza/devkit-wallet/internal/wallet/repository"
	"github.com/Maphikza/devkit-wallet/lib/chain"
)

// lazyClient connects to the chain backend on first use, so commands that
// never touch the network work offline.
type lazyClient struct {
	cfg *config.Config

	once   sync.Once
	client *chain.Client
	err    error
}

func (l *lazyClient) get(ctx context.Context) (*chain.Client, error) {
	l.once.Do(func() {
		l.client, l.err = wallet.NewChainClient(ctx, l.cfg)
	})
	return l.client, l.err
}

func (l *lazyClient) FullScan(ctx context.Context, req chain.ScanRequest, stopGap, parallelRequests int) (*chain.Update, error) {
	client, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return client.FullScan(ctx, req, stopGap, parallelRequests)
}

func (l *lazyClient) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	client, err := l.get(ctx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return client.Broadcast(ctx, tx)
}

func (l *lazyClient) EstimateFeeRate(ctx context.Context, target int) (float64, error) {
	client, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return client.EstimateFeeRate(ctx, target)
}

func (l *lazyClient) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

type app struct {
	cfg    *config.Config
	wallet *wallet.Wallet
	reader *bufio.Reader
}

func newApp(dataDir string, reader *bufio.Reader) (*app, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if err := logger.Init(cfg.LogFile, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("error initializing logger: %w", err)
	}

	a := &app{cfg: cfg, reader: reader}
	if err := a.openRepository(cfg.StoragePassphrase); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openRepository(passphrase string) error {
	repo := repository.New(a.cfg.RepositoryPath(), passphrase)
	w, err := wallet.New(a.cfg, repo, &lazyClient{cfg: a.cfg})
	if err != nil {
		return err
	}
	if a.wallet != nil {
		a.wallet.Close()
	}
	a.wallet = w
	return nil
}

// load opens the saved wallet, asking for the storage passphrase when the
// repository is sealed.
func (a *app) load() error {
	err := a.withPassphrase(func() error { return a.wallet.LoadExistingWallet() })
	if errors.Is(err, wallet.ErrNoWallet) {
		return fmt.Errorf("%w, run create or recover first", err)
	}
	return err
}

// withPassphrase runs fn, and once more after asking for the storage
// passphrase when fn needs one. fn must reach the wallet through a, since
// the wallet is reopened.
func (a *app) withPassphrase(fn func() error) error {
	err := fn()
	if !errors.Is(err, repository.ErrPassphraseRequired) {
		return err
	}
	passphrase, err := readPassphrase(a.reader, "Storage passphrase: ")
	if err != nil {
		return err
	}
	if err := a.openRepository(passphrase); err != nil {
		return err
	}
	return fn()
}

// useNewPassphrase asks whether to seal a new wallet and reopens the
// repository accordingly.
func (a *app) useNewPassphrase(encrypt bool) error {
	if !encrypt {
		return nil
	}
	passphrase, err := readPassphrase(a.reader, "New storage passphrase: ")
	if err != nil {
		return err
	}
	again, err := readPassphrase(a.reader, "Repeat passphrase: ")
	if err != nil {
		return err
	}
	if passphrase != again {
		return errors.New("passphrases do not match")
	}
	return a.openRepository(passphrase)
}

func (a *app) sync(ctx context.Context) error {
	fmt.Println("Syncing wallet...")
	if err := a.wallet.Sync(ctx); err != nil {
		return err
	}
	log.Info("sync finished")
	return nil
}

func (a *app) close() {
	if err := a.wallet.Close(); err != nil {
		log.WithError(err).Warn("error closing wallet")
	}
	logger.Cleanup()
}
