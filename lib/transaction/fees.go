package transaction

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
)

const (
	// Upper bounds of a P2WPKH witness: DER signature with sighash byte and
	// a compressed public key.
	dummySignatureSize = 72
	dummyPubKeySize    = 33
)

// DustLimit returns the smallest value an output paying script may carry.
// OP_RETURN outputs have no limit.
func DustLimit(script []byte) btcutil.Amount {
	if len(script) > 0 && script[0] == 0x6a {
		return 0
	}
	return btcutil.Amount(mempool.GetDustThreshold(&wire.TxOut{PkScript: script}))
}

// EstimateVSize returns the virtual size tx would have once every input
// carries a P2WPKH witness.
func EstimateVSize(tx *wire.MsgTx) int64 {
	skeleton := tx.Copy()
	for _, in := range skeleton.TxIn {
		in.SignatureScript = nil
		in.Witness = wire.TxWitness{
			make([]byte, dummySignatureSize),
			make([]byte, dummyPubKeySize),
		}
	}
	return VSize(skeleton)
}

// VSize returns the virtual size of tx as it stands.
func VSize(tx *wire.MsgTx) int64 {
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}
