package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// IncrementalRelayFee is the extra fee rate a replacement pays for its own
// relay, on top of the fee of the transaction it replaces.
const IncrementalRelayFee = FeeRate(1)

// BumpFeeTxBuilder replaces an unconfirmed transaction with one paying a
// higher fee rate.
type BumpFeeTxBuilder struct {
	txid    chainhash.Hash
	feeRate FeeRate
}

// NewBumpFeeTxBuilder prepares a replacement of txid at rate.
func NewBumpFeeTxBuilder(txid chainhash.Hash, rate FeeRate) *BumpFeeTxBuilder {
	return &BumpFeeTxBuilder{txid: txid, feeRate: rate}
}

// SignalsRBF reports whether tx opts in to replacement.
func SignalsRBF(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if in.Sequence < wire.MaxTxInSequenceNum-1 {
			return true
		}
	}
	return false
}

// Finish builds the replacement. The original inputs and the outputs not
// paying the wallet are kept. The wallet output, if any, absorbs the fee
// increase and more inputs are added when it cannot.
func (b *BumpFeeTxBuilder) Finish(w BumpWallet) (*psbt.Packet, error) {
	if b.feeRate <= 0 {
		return nil, ErrInvalidFeeRate
	}

	original, confirmed, err := w.Transaction(b.txid)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", b.txid, err)
	}
	if confirmed {
		return nil, fmt.Errorf("%w: %s", ErrTxConfirmed, b.txid)
	}
	if !SignalsRBF(original) {
		return nil, fmt.Errorf("%w: %s", ErrIrreplaceable, b.txid)
	}

	inputs := make([]Utxo, 0, len(original.TxIn))
	var totalIn btcutil.Amount
	for _, in := range original.TxIn {
		u, err := w.Output(in.PreviousOutPoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrForeignInput, in.PreviousOutPoint, err)
		}
		inputs = append(inputs, *u)
		totalIn += btcutil.Amount(u.TxOut.Value)
	}

	var totalOut btcutil.Amount
	changeIndex := -1
	for i, out := range original.TxOut {
		totalOut += btcutil.Amount(out.Value)
		if w.IsMine(out.PkScript) {
			changeIndex = i
		}
	}

	oldFee := totalIn - totalOut
	oldRate := float64(oldFee) / float64(VSize(original))
	if float64(b.feeRate) <= oldRate {
		return nil, fmt.Errorf("%w: %v is not above the current %.2f sat/vB", ErrFeeTooLow, b.feeRate, oldRate)
	}

	outputs := make([]*wire.TxOut, 0, len(original.TxOut))
	for i, out := range original.TxOut {
		if i != changeIndex {
			outputs = append(outputs, wire.NewTxOut(out.Value, out.PkScript))
		}
	}

	var changeScript []byte
	if changeIndex >= 0 {
		changeScript = original.TxOut[changeIndex].PkScript
	} else {
		changeScript, err = w.ChangeScript()
		if err != nil {
			return nil, fmt.Errorf("failed to get change script: %w", err)
		}
	}

	utxos, err := w.ListUnspent()
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent outputs: %w", err)
	}
	candidates := make([]Utxo, 0, len(utxos))
	for _, u := range utxos {
		// Outputs of the transaction being replaced disappear with it.
		if u.OutPoint.Hash != b.txid {
			candidates = append(candidates, u)
		}
	}

	selector := &coinSelector{
		mustUse:      inputs,
		candidates:   candidates,
		outputs:      outputs,
		changeScript: changeScript,
		// A sweep to our own address keeps its single output.
		drain:    len(outputs) == 0,
		feeRate:  b.feeRate,
		sequence: RBFSequenceNumber,
		minFee: func(vsize int64) btcutil.Amount {
			return oldFee + IncrementalRelayFee.FeeForVSize(vsize)
		},
	}

	sel, err := selector.selectLargestFirst()
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"replaces": b.txid,
		"old_fee":  oldFee,
		"new_fee":  sel.fee,
	}).Info("fee bump built")

	return newPacket(w, selector, sel)
}
