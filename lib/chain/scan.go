package chain

import (
	"context"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

// FullScan walks every keychain in req from index zero until stopGap
// consecutive scripts have no history, fetching up to parallelRequests
// histories at a time, then downloads the transactions it found.
func (c *Client) FullScan(ctx context.Context, req ScanRequest, stopGap, parallelRequests int) (*Update, error) {
	if stopGap <= 0 || parallelRequests <= 0 {
		return nil, ErrInvalidScanParams
	}

	update := &Update{
		LastActiveIndices: make(map[descriptor.Keychain]uint32),
		Prevouts:          make(map[wire.OutPoint]*wire.TxOut),
	}
	statuses := make(map[chainhash.Hash]TxStatus)

	for _, keychain := range req.Keychains {
		lastActive, found, err := c.scanKeychain(ctx, keychain, stopGap, parallelRequests, statuses, update.Prevouts)
		if err != nil {
			return nil, fmt.Errorf("error scanning %s keychain: %w", keychain.Keychain, err)
		}
		if found {
			update.LastActiveIndices[keychain.Keychain] = lastActive
		}
		log.WithFields(log.Fields{
			"keychain":    keychain.Keychain,
			"last_active": lastActive,
			"found":       found,
		}).Debug("keychain scanned")
	}

	txs, err := c.fetchTransactions(ctx, statuses, req.KnownTxs, parallelRequests)
	if err != nil {
		return nil, err
	}
	update.Txs = txs

	if tipSource, ok := c.source.(TipSource); ok {
		tip, err := tipSource.TipHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("error fetching tip height: %w", err)
		}
		update.TipHeight = tip
	}

	return update, nil
}

func (c *Client) scanKeychain(
	ctx context.Context,
	keychain KeychainScripts,
	stopGap, parallelRequests int,
	statuses map[chainhash.Hash]TxStatus,
	prevouts map[wire.OutPoint]*wire.TxOut,
) (uint32, bool, error) {
	var (
		lastActive uint32
		found      bool
		gap        int
		next       uint32
	)

	for gap < stopGap {
		histories := make([][]HistoryTx, parallelRequests)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelRequests)
		for i := 0; i < parallelRequests; i++ {
			i, index := i, next+uint32(i)
			g.Go(func() error {
				script, err := keychain.Script(index)
				if err != nil {
					return fmt.Errorf("error deriving script %d: %w", index, err)
				}
				history, err := c.source.ScriptHistory(gctx, script)
				if err != nil {
					return err
				}
				histories[i] = history
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, false, err
		}

		for i, history := range histories {
			index := next + uint32(i)
			if len(history) == 0 {
				gap++
				if gap >= stopGap {
					break
				}
				continue
			}

			gap = 0
			lastActive, found = index, true
			for _, entry := range history {
				mergeStatus(statuses, entry.Txid, entry.Status)
				for op, out := range entry.Prevouts {
					prevouts[op] = out
				}
			}
		}
		next += uint32(parallelRequests)
	}

	return lastActive, found, nil
}

// mergeStatus keeps the most settled status seen for txid.
func mergeStatus(statuses map[chainhash.Hash]TxStatus, txid chainhash.Hash, status TxStatus) {
	current, ok := statuses[txid]
	if !ok || (status.Confirmed && !current.Confirmed) {
		statuses[txid] = status
	}
}

func (c *Client) fetchTransactions(
	ctx context.Context,
	statuses map[chainhash.Hash]TxStatus,
	known map[chainhash.Hash]bool,
	parallelRequests int,
) ([]TxUpdate, error) {
	txids := make([]chainhash.Hash, 0, len(statuses))
	for txid := range statuses {
		txids = append(txids, txid)
	}
	// Confirmed first by height, then mempool, so callers apply parents
	// before children.
	sort.Slice(txids, func(i, j int) bool {
		a, b := statuses[txids[i]], statuses[txids[j]]
		if a.Confirmed != b.Confirmed {
			return a.Confirmed
		}
		if a.BlockHeight != b.BlockHeight {
			return a.BlockHeight < b.BlockHeight
		}
		return txids[i].String() < txids[j].String()
	})

	updates := make([]TxUpdate, len(txids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelRequests)
	for i, txid := range txids {
		i, txid := i, txid
		updates[i] = TxUpdate{Txid: txid, Status: statuses[txid]}
		if known[txid] {
			continue
		}
		g.Go(func() error {
			tx, err := c.source.Transaction(gctx, txid)
			if err != nil {
				return fmt.Errorf("error fetching transaction %s: %w", txid, err)
			}
			updates[i].Tx = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return updates, nil
}
