package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PrevOutputFetcher collects the outputs spent by packet from its witness
// and non witness UTXO fields.
func PrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.UnsignedTx.TxIn {
		pIn := packet.Inputs[i]
		switch {
		case pIn.WitnessUtxo != nil:
			fetcher.AddPrevOut(in.PreviousOutPoint, pIn.WitnessUtxo)
		case pIn.NonWitnessUtxo != nil && int(in.PreviousOutPoint.Index) < len(pIn.NonWitnessUtxo.TxOut):
			fetcher.AddPrevOut(in.PreviousOutPoint, pIn.NonWitnessUtxo.TxOut[in.PreviousOutPoint.Index])
		}
	}
	return fetcher
}

// VerifyInput runs the script engine over input index of tx.
func VerifyInput(tx *wire.MsgTx, index int, prevOuts txscript.PrevOutputFetcher, sigHashes *txscript.TxSigHashes) error {
	prevOut := prevOuts.FetchPrevOutput(tx.TxIn[index].PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("missing previous output for input %d", index)
	}

	engine, err := txscript.NewEngine(
		prevOut.PkScript, tx, index, txscript.StandardVerifyFlags,
		nil, sigHashes, prevOut.Value, prevOuts,
	)
	if err != nil {
		return fmt.Errorf("failed to create script engine: %w", err)
	}
	if err := engine.Execute(); err != nil {
		return fmt.Errorf("failed to verify input %d: %w", index, err)
	}
	return nil
}

// VerifyTransaction checks every input of tx.
func VerifyTransaction(tx *wire.MsgTx, prevOuts txscript.PrevOutputFetcher) error {
	for i, in := range tx.TxIn {
		if prevOuts.FetchPrevOutput(in.PreviousOutPoint) == nil {
			return fmt.Errorf("missing previous output for input %d", i)
		}
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)
	for i := range tx.TxIn {
		if err := VerifyInput(tx, i, prevOuts, sigHashes); err != nil {
			return err
		}
	}
	return nil
}
