package wallet

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/internal/config"
	"github.com/Maphikza/devkit-wallet/lib/chain"
	"github.com/Maphikza/devkit-wallet/lib/chain/electrum"
	"github.com/Maphikza/devkit-wallet/lib/chain/esplora"
)

// NewChainClient connects to the chain backend selected in cfg.
func NewChainClient(ctx context.Context, cfg *config.Config) (*chain.Client, error) {
	switch cfg.ChainBackend {
	case config.BackendEsplora:
		log.WithField("url", cfg.EsploraURL).Debug("using esplora backend")
		return chain.NewClient(esplora.New(cfg.EsploraURL, cfg.EsploraRateLimit)), nil

	case config.BackendElectrum:
		server := cfg.ElectrumURL()
		client, err := electrum.Dial(ctx, server)
		if err != nil {
			return nil, fmt.Errorf("error connecting to electrum server %s: %w", server, err)
		}
		source := electrum.NewSource(client)
		if err := source.Ping(ctx); err != nil {
			source.Close()
			return nil, fmt.Errorf("electrum server %s is not responding: %w", server, err)
		}
		log.WithFields(log.Fields{
			"server":  server,
			"default": cfg.IsElectrumServerDefault(),
		}).Info("connected to electrum server")
		return chain.NewClient(source), nil

	default:
		return nil, fmt.Errorf("unknown chain backend %q", cfg.ChainBackend)
	}
}
