package transaction

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// newPacket lays out sel as a BIP69 ordered transaction and wraps it in a
// PSBT carrying what a signer needs for each input.
func newPacket(w Wallet, s *coinSelector, sel *selection) (*psbt.Packet, error) {
	tx := s.skeleton(sel.inputs, sel.change)
	txsort.InPlaceSort(tx)

	if weight := EstimateVSize(tx) * 4; weight > MaxStandardTxWeight {
		return nil, fmt.Errorf("%w: %d weight units", ErrTxTooLarge, weight)
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt: %w", err)
	}
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to create psbt updater: %w", err)
	}

	byOutPoint := make(map[wire.OutPoint]Utxo, len(sel.inputs))
	for _, u := range sel.inputs {
		byOutPoint[u.OutPoint] = u
	}

	for i, in := range tx.TxIn {
		u := byOutPoint[in.PreviousOutPoint]

		if u.PrevTx != nil {
			if err := updater.AddInNonWitnessUtxo(u.PrevTx, i); err != nil {
				return nil, fmt.Errorf("failed to add non witness utxo %d: %w", i, err)
			}
		}
		if err := updater.AddInWitnessUtxo(u.TxOut, i); err != nil {
			return nil, fmt.Errorf("failed to add witness utxo %d: %w", i, err)
		}
		if err := updater.AddInSighashType(txscript.SigHashAll, i); err != nil {
			return nil, fmt.Errorf("failed to add sighash type %d: %w", i, err)
		}

		derivation, err := w.Derivation(u.Keychain, u.Index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key for input %d: %w", i, err)
		}
		err = updater.AddInBip32Derivation(
			derivation.MasterKeyFingerprint, derivation.Bip32Path, derivation.PubKey, i,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to add bip32 derivation %d: %w", i, err)
		}
	}

	log.WithFields(log.Fields{
		"txid":    tx.TxHash(),
		"inputs":  len(tx.TxIn),
		"outputs": len(tx.TxOut),
		"fee":     sel.fee,
		"vsize":   sel.vsize,
		"change":  sel.change != nil,
	}).Debug("transaction built")

	return packet, nil
}
