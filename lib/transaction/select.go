package transaction

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

type selection struct {
	inputs []Utxo
	// change is nil when the remainder went to fees.
	change *wire.TxOut
	fee    btcutil.Amount
	vsize  int64
}

type coinSelector struct {
	mustUse      []Utxo
	candidates   []Utxo
	outputs      []*wire.TxOut
	changeScript []byte
	// drain makes the change output mandatory: it receives everything left.
	drain    bool
	feeRate  FeeRate
	sequence uint32
	// minFee, when set, is an absolute floor on the fee for a given vsize.
	minFee func(vsize int64) btcutil.Amount
}

// selectLargestFirst adds candidates from the largest down until the
// selected inputs pay for the outputs and the fee.
func (s *coinSelector) selectLargestFirst() (*selection, error) {
	var target btcutil.Amount
	for _, out := range s.outputs {
		target += btcutil.Amount(out.Value)
	}

	candidates := append([]Utxo(nil), s.candidates...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TxOut.Value > candidates[j].TxOut.Value
	})

	selected := append([]Utxo(nil), s.mustUse...)
	var total btcutil.Amount
	for _, u := range selected {
		total += btcutil.Amount(u.TxOut.Value)
	}

	next := 0
	for {
		if len(selected) > 0 {
			if sel := s.tryFinish(selected, total, target); sel != nil {
				return sel, nil
			}
		}
		if next >= len(candidates) {
			break
		}
		selected = append(selected, candidates[next])
		total += btcutil.Amount(candidates[next].TxOut.Value)
		next++
	}

	return nil, fmt.Errorf("%w: available %v, need %v plus fees", ErrInsufficientFunds, total, target)
}

func (s *coinSelector) tryFinish(inputs []Utxo, total, target btcutil.Amount) *selection {
	change := wire.NewTxOut(0, s.changeScript)
	vsizeWithChange := EstimateVSize(s.skeleton(inputs, change))
	feeWithChange := s.fee(vsizeWithChange)

	if remainder := total - target - feeWithChange; remainder >= DustLimit(s.changeScript) && remainder > 0 {
		change.Value = int64(remainder)
		return &selection{
			inputs: inputs,
			change: change,
			fee:    feeWithChange,
			vsize:  vsizeWithChange,
		}
	}
	if s.drain {
		return nil
	}

	vsize := EstimateVSize(s.skeleton(inputs, nil))
	if total < target+s.fee(vsize) {
		return nil
	}
	// Change below dust is left to the miner.
	return &selection{
		inputs: inputs,
		fee:    total - target,
		vsize:  vsize,
	}
}

func (s *coinSelector) fee(vsize int64) btcutil.Amount {
	fee := s.feeRate.FeeForVSize(vsize)
	if s.minFee != nil {
		if floor := s.minFee(vsize); floor > fee {
			return floor
		}
	}
	return fee
}

func (s *coinSelector) skeleton(inputs []Utxo, change *wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	for _, u := range inputs {
		in := wire.NewTxIn(&u.OutPoint, nil, nil)
		in.Sequence = s.sequence
		tx.AddTxIn(in)
	}
	for _, out := range s.outputs {
		tx.AddTxOut(out)
	}
	if change != nil {
		tx.AddTxOut(change)
	}
	return tx
}
