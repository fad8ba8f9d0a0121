package core

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/devkit-wallet/lib/chain"
	"github.com/Maphikza/devkit-wallet/lib/transaction"
)

var recipientScript = append([]byte{0x00, 0x14}, make([]byte, 20)...)

func TestBuildSignAndInsert(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	first := fundingTx(t, w, 0, 60000)
	second := fundingTx(t, w, 1, 50000)
	require.NoError(t, w.ApplyUpdate(update(100, nil,
		txUpdate(first, confirmedAt(90)),
		txUpdate(second, confirmedAt(91)),
	)))

	packet, err := transaction.NewTxBuilder().
		AddRecipient(recipientScript, 80000).
		FeeRate(2).
		EnableRBF().
		Finish(w)
	require.NoError(t, err)
	require.Len(t, packet.UnsignedTx.TxIn, 2)
	require.Len(t, packet.UnsignedTx.TxOut, 2)

	finalized, err := w.Sign(packet)
	require.NoError(t, err)
	require.True(t, finalized)

	// Signing a finalized packet changes nothing.
	finalized, err = w.Sign(packet)
	require.NoError(t, err)
	require.True(t, finalized)

	tx, err := psbt.Extract(packet)
	require.NoError(t, err)
	require.NoError(t, transaction.VerifyTransaction(tx, transaction.PrevOutputFetcher(packet)))
	assert.True(t, transaction.SignalsRBF(tx))

	fee, err := packet.GetTxFee()
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(2*209), fee)

	require.NoError(t, w.InsertTx(tx))

	balance := w.Balance()
	assert.Equal(t, btcutil.Amount(0), balance.Confirmed)
	assert.Equal(t, btcutil.Amount(110000-80000-418), balance.TrustedPending)

	details, err := w.GetTx(tx.TxHash())
	require.NoError(t, err)
	require.NotNil(t, details.Fee)
	assert.Equal(t, fee, *details.Fee)
	assert.Equal(t, btcutil.Amount(110000), details.Sent)

	// Change went to external index 2, after the two funded addresses.
	info, err := w.GetAddress(LastUnused)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), info.Index)
}

func TestBumpFeeThroughWallet(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	funding := fundingTx(t, w, 0, 100000)
	require.NoError(t, w.ApplyUpdate(update(100, nil, txUpdate(funding, confirmedAt(90)))))

	packet, err := transaction.NewTxBuilder().
		AddRecipient(recipientScript, 30000).
		EnableRBF().
		Finish(w)
	require.NoError(t, err)
	ok, err := w.Sign(packet)
	require.NoError(t, err)
	require.True(t, ok)
	original, err := psbt.Extract(packet)
	require.NoError(t, err)
	require.NoError(t, w.InsertTx(original))

	bump, err := transaction.NewBumpFeeTxBuilder(original.TxHash(), 5).Finish(w)
	require.NoError(t, err)
	ok, err = w.Sign(bump)
	require.NoError(t, err)
	require.True(t, ok)

	replacement, err := psbt.Extract(bump)
	require.NoError(t, err)
	assert.Equal(t, original.TxIn[0].PreviousOutPoint, replacement.TxIn[0].PreviousOutPoint)

	oldFee, err := packet.GetTxFee()
	require.NoError(t, err)
	newFee, err := bump.GetTxFee()
	require.NoError(t, err)
	assert.Greater(t, newFee, oldFee)

	require.NoError(t, w.InsertTx(replacement))
	_, _, err = w.Transaction(original.TxHash())
	require.ErrorIs(t, err, ErrTxNotFound)

	// Once confirmed the replacement cannot be bumped.
	require.NoError(t, w.ApplyUpdate(update(101, nil,
		chain.TxUpdate{Txid: funding.TxHash(), Status: confirmedAt(90)},
		txUpdate(replacement, confirmedAt(101)),
	)))
	_, err = transaction.NewBumpFeeTxBuilder(replacement.TxHash(), 10).Finish(w)
	require.ErrorIs(t, err, transaction.ErrTxConfirmed)
}

func TestSignRequiresUtxo(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x01}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, recipientScript))
	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	_, err = w.Sign(packet)
	require.ErrorIs(t, err, ErrMissingUtxo)
}

func TestSignLeavesForeignInputs(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	funding := fundingTx(t, w, 0, 100000)
	require.NoError(t, w.ApplyUpdate(update(100, nil, txUpdate(funding, confirmedAt(90)))))

	fundingHash := funding.TxHash()
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fundingHash, 0), nil, nil))
	foreignHash := fundingHash
	foreignHash[31] ^= 0xff
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&foreignHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(120000, recipientScript))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	packet.Inputs[0].WitnessUtxo = funding.TxOut[0]
	packet.Inputs[0].SighashType = 1
	packet.Inputs[1].WitnessUtxo = wire.NewTxOut(30000, recipientScript)

	finalized, err := w.Sign(packet)
	require.NoError(t, err)
	assert.False(t, finalized)
	assert.NotNil(t, packet.Inputs[0].FinalScriptWitness)
	assert.Nil(t, packet.Inputs[1].FinalScriptWitness)
}
