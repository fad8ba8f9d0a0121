package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/internal/wallet/core"
	"github.com/Maphikza/devkit-wallet/lib/transaction"
)

// TransactionHistory splits the wallet history by confirmation, newest first.
type TransactionHistory struct {
	Pending   []core.TxDetails
	Confirmed []core.TxDetails
}

// CreateTransaction builds an unsigned PSBT paying recipients in order.
// opReturn, when not empty, is added as an OP_RETURN output.
func (w *Wallet) CreateTransaction(recipients []transaction.Recipient, feeRate transaction.FeeRate, enableRBF bool, opReturn []byte) (*psbt.Packet, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}

	builder := transaction.NewTxBuilder().FeeRate(feeRate)
	for _, r := range recipients {
		script, err := r.Script(w.params)
		if err != nil {
			return nil, err
		}
		builder.AddRecipient(script, r.Amount)
	}
	if enableRBF {
		builder.EnableRBF()
	}
	if len(opReturn) > 0 {
		builder.AddData(opReturn)
	}

	packet, err := builder.Finish(handle)
	if err != nil {
		return nil, fmt.Errorf("error building transaction: %w", err)
	}
	return packet, nil
}

// CreateSendAllTransaction builds an unsigned PSBT sending every spendable
// output to address.
func (w *Wallet) CreateSendAllTransaction(address string, feeRate transaction.FeeRate, enableRBF bool) (*psbt.Packet, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}

	script, err := transaction.Recipient{Address: address}.Script(w.params)
	if err != nil {
		return nil, err
	}
	builder := transaction.NewTxBuilder().
		FeeRate(feeRate).
		DrainWallet().
		DrainTo(script)
	if enableRBF {
		builder.EnableRBF()
	}

	packet, err := builder.Finish(handle)
	if err != nil {
		return nil, fmt.Errorf("error building send all transaction: %w", err)
	}
	return packet, nil
}

// CreateBumpFeeTransaction builds an unsigned replacement of txid at feeRate.
func (w *Wallet) CreateBumpFeeTransaction(txid chainhash.Hash, feeRate transaction.FeeRate) (*psbt.Packet, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}

	packet, err := transaction.NewBumpFeeTxBuilder(txid, feeRate).Finish(handle)
	if err != nil {
		return nil, fmt.Errorf("error bumping fee of %s: %w", txid, err)
	}
	return packet, nil
}

// Sign signs packet in place and reports whether it is fully finalized.
func (w *Wallet) Sign(packet *psbt.Packet) (bool, error) {
	handle, err := w.active()
	if err != nil {
		return false, err
	}
	return handle.Sign(packet)
}

// Broadcast submits the finalized packet and records the transaction as
// unconfirmed.
func (w *Wallet) Broadcast(ctx context.Context, packet *psbt.Packet) (chainhash.Hash, error) {
	handle, err := w.active()
	if err != nil {
		return chainhash.Hash{}, err
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("error extracting transaction: %w", err)
	}

	txid, err := w.client.Broadcast(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, err
	}

	// The transaction is out, a failure here only delays it showing up
	// until the next sync.
	if err := handle.InsertTx(tx); err != nil {
		log.WithError(err).WithField("txid", txid).Error("error recording broadcast transaction")
		return txid, fmt.Errorf("transaction %s broadcast but not recorded: %w", txid, err)
	}
	return txid, nil
}

// ListTransactions returns the wallet history, unconfirmed first.
func (w *Wallet) ListTransactions() ([]core.TxDetails, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}
	return handle.ListTransactions(), nil
}

// GetTransaction returns the details of txid.
func (w *Wallet) GetTransaction(txid chainhash.Hash) (*core.TxDetails, error) {
	handle, err := w.active()
	if err != nil {
		return nil, err
	}
	return handle.GetTx(txid)
}

// GetAllTransactions returns the history split into pending and confirmed.
func (w *Wallet) GetAllTransactions() (*TransactionHistory, error) {
	txs, err := w.ListTransactions()
	if err != nil {
		return nil, err
	}

	history := &TransactionHistory{}
	for _, tx := range txs {
		if tx.Confirmed() {
			history.Confirmed = append(history.Confirmed, tx)
		} else {
			history.Pending = append(history.Pending, tx)
		}
	}
	return history, nil
}

// EstimateFeeRate asks the chain backend for a fee rate confirming within
// target blocks. Estimates below the minimum relay rate are raised to it.
func (w *Wallet) EstimateFeeRate(ctx context.Context, target int) (transaction.FeeRate, error) {
	rate, err := w.client.EstimateFeeRate(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("error estimating fee rate: %w", err)
	}
	if transaction.FeeRate(rate) < transaction.DefaultFeeRate {
		return transaction.DefaultFeeRate, nil
	}
	return transaction.FeeRate(rate), nil
}
