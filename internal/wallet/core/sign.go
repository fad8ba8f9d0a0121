package core

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/lib/transaction"
)

func isFinalized(in *psbt.PInput) bool {
	return in.FinalScriptSig != nil || in.FinalScriptWitness != nil
}

// Sign adds signatures for every input spending a wallet output and
// finalizes what it can. It returns true once every input is finalized.
func (w *Wallet) Sign(packet *psbt.Packet) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	tx := packet.UnsignedTx
	prevOuts := transaction.PrevOutputFetcher(packet)
	for i, in := range tx.TxIn {
		if !isFinalized(&packet.Inputs[i]) && prevOuts.FetchPrevOutput(in.PreviousOutPoint) == nil {
			return false, fmt.Errorf("%w: input %d", ErrMissingUtxo, i)
		}
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return false, err
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	signed := 0
	for i, in := range tx.TxIn {
		if isFinalized(&packet.Inputs[i]) {
			continue
		}

		prevOut := prevOuts.FetchPrevOutput(in.PreviousOutPoint)
		info, ok := w.scripts[string(prevOut.PkScript)]
		if !ok {
			continue
		}
		if !txscript.IsPayToWitnessPubKeyHash(prevOut.PkScript) {
			continue
		}

		key := w.descriptorFor(info.keychain).Key()
		privKey, err := key.PrivKey(info.index)
		if err != nil {
			return false, fmt.Errorf("failed to derive key for input %d: %w", i, err)
		}

		sig, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, i, prevOut.Value, prevOut.PkScript, txscript.SigHashAll, privKey,
		)
		if err != nil {
			return false, fmt.Errorf("failed to sign input %d: %w", i, err)
		}

		outcome, err := updater.Sign(i, sig, privKey.PubKey().SerializeCompressed(), nil, nil)
		if err != nil {
			return false, fmt.Errorf("failed to add signature to input %d: %w", i, err)
		}
		if outcome != psbt.SignSuccesful {
			return false, fmt.Errorf("failed to add signature to input %d: outcome %d", i, outcome)
		}
		if _, err := psbt.MaybeFinalize(packet, i); err != nil {
			return false, fmt.Errorf("failed to finalize input %d: %w", i, err)
		}
		signed++
	}

	for i := range packet.Inputs {
		if !isFinalized(&packet.Inputs[i]) {
			log.WithFields(log.Fields{
				"signed":  signed,
				"pending": i,
			}).Debug("psbt partially signed")
			return false, nil
		}
	}

	final, err := psbt.Extract(packet)
	if err != nil {
		return false, fmt.Errorf("failed to extract transaction: %w", err)
	}
	if err := transaction.VerifyTransaction(final, prevOuts); err != nil {
		return false, err
	}

	log.WithFields(log.Fields{
		"txid":   final.TxHash(),
		"signed": signed,
	}).Debug("psbt signed")
	return true, nil
}
