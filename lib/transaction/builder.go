package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// TxBuilder collects the parameters of a new transaction. Setters return the
// builder so calls can be chained.
type TxBuilder struct {
	recipients  []*wire.TxOut
	data        []byte
	hasData     bool
	feeRate     FeeRate
	rbf         bool
	drainWallet bool
	drainTo     []byte
}

// NewTxBuilder returns a builder paying DefaultFeeRate.
func NewTxBuilder() *TxBuilder {
	return &TxBuilder{feeRate: DefaultFeeRate}
}

// AddRecipient pays amount to script.
func (b *TxBuilder) AddRecipient(script []byte, amount btcutil.Amount) *TxBuilder {
	b.recipients = append(b.recipients, wire.NewTxOut(int64(amount), script))
	return b
}

// FeeRate sets the fee rate in sat/vB.
func (b *TxBuilder) FeeRate(rate FeeRate) *TxBuilder {
	b.feeRate = rate
	return b
}

// EnableRBF makes the transaction replaceable.
func (b *TxBuilder) EnableRBF() *TxBuilder {
	b.rbf = true
	return b
}

// AddData adds a zero value OP_RETURN output carrying data.
func (b *TxBuilder) AddData(data []byte) *TxBuilder {
	b.data = append([]byte(nil), data...)
	b.hasData = true
	return b
}

// DrainWallet spends every spendable output.
func (b *TxBuilder) DrainWallet() *TxBuilder {
	b.drainWallet = true
	return b
}

// DrainTo sends whatever is left after recipients and fees to script instead
// of a change address.
func (b *TxBuilder) DrainTo(script []byte) *TxBuilder {
	b.drainTo = script
	return b
}

// Finish selects coins from w and returns the unsigned PSBT.
func (b *TxBuilder) Finish(w Wallet) (*psbt.Packet, error) {
	if len(b.recipients) == 0 && b.drainTo == nil {
		return nil, ErrNoRecipients
	}
	if b.feeRate <= 0 {
		return nil, ErrInvalidFeeRate
	}

	outputs := make([]*wire.TxOut, 0, len(b.recipients)+1)
	for _, out := range b.recipients {
		if limit := DustLimit(out.PkScript); btcutil.Amount(out.Value) < limit {
			return nil, fmt.Errorf("%w: %v < %v", ErrOutputBelowDust, btcutil.Amount(out.Value), limit)
		}
		outputs = append(outputs, out)
	}
	if b.hasData {
		script, err := txscript.NullDataScript(b.data)
		if err != nil {
			return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(b.data))
		}
		outputs = append(outputs, wire.NewTxOut(0, script))
	}

	changeScript := b.drainTo
	if changeScript == nil {
		script, err := w.ChangeScript()
		if err != nil {
			return nil, fmt.Errorf("failed to get change script: %w", err)
		}
		changeScript = script
	}

	utxos, err := w.ListUnspent()
	if err != nil {
		return nil, fmt.Errorf("failed to list unspent outputs: %w", err)
	}

	sequence := wire.MaxTxInSequenceNum
	if b.rbf {
		sequence = RBFSequenceNumber
	}

	selector := &coinSelector{
		candidates:   utxos,
		outputs:      outputs,
		changeScript: changeScript,
		drain:        b.drainTo != nil,
		feeRate:      b.feeRate,
		sequence:     sequence,
	}
	if b.drainWallet {
		selector.mustUse, selector.candidates = utxos, nil
	}

	sel, err := selector.selectLargestFirst()
	if err != nil {
		return nil, err
	}
	return newPacket(w, selector, sel)
}
