package transaction

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/devkit-wallet/lib/descriptor"
	"github.com/Maphikza/devkit-wallet/lib/keys"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var errNotFound = errors.New("not found")

// testWallet is an in-memory Wallet over the BIP84 external keychain of the
// test phrase.
type testWallet struct {
	desc        *descriptor.Descriptor
	scripts     map[string]uint32
	utxos       []Utxo
	outputs     map[wire.OutPoint]Utxo
	txs         map[chainhash.Hash]*wire.MsgTx
	confirmed   map[chainhash.Hash]bool
	changeIndex uint32
	fundings    int
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()

	params := &chaincfg.TestNet3Params
	mnemonic, err := keys.MnemonicFromString(testPhrase)
	require.NoError(t, err)
	secret, err := keys.NewDescriptorSecretKey(params, mnemonic, "")
	require.NoError(t, err)
	desc, err := descriptor.NewBIP84(secret.Root(), descriptor.External, params)
	require.NoError(t, err)

	w := &testWallet{
		desc:        desc,
		scripts:     make(map[string]uint32),
		outputs:     make(map[wire.OutPoint]Utxo),
		txs:         make(map[chainhash.Hash]*wire.MsgTx),
		confirmed:   make(map[chainhash.Hash]bool),
		changeIndex: 20,
	}
	for i := uint32(0); i < 30; i++ {
		script, err := desc.Script(i)
		require.NoError(t, err)
		w.scripts[string(script)] = i
	}
	return w
}

func (w *testWallet) script(t *testing.T, index uint32) []byte {
	t.Helper()
	script, err := w.desc.Script(index)
	require.NoError(t, err)
	return script
}

// fund adds a confirmed output of value paying the script at index.
func (w *testWallet) fund(t *testing.T, index uint32, value btcutil.Amount) Utxo {
	t.Helper()

	w.fundings++
	funding := wire.NewMsgTx(2)
	funding.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{byte(w.fundings), 0xff}, 0), nil, nil))
	funding.AddTxOut(wire.NewTxOut(int64(value), w.script(t, index)))

	u := Utxo{
		OutPoint:  wire.OutPoint{Hash: funding.TxHash(), Index: 0},
		TxOut:     funding.TxOut[0],
		Keychain:  descriptor.External,
		Index:     index,
		Confirmed: true,
		PrevTx:    funding,
	}
	w.utxos = append(w.utxos, u)
	w.outputs[u.OutPoint] = u
	w.txs[funding.TxHash()] = funding
	w.confirmed[funding.TxHash()] = true
	return u
}

// spend records tx as an unconfirmed wallet transaction.
func (w *testWallet) spend(tx *wire.MsgTx) {
	spent := make(map[wire.OutPoint]bool)
	for _, in := range tx.TxIn {
		spent[in.PreviousOutPoint] = true
	}
	remaining := w.utxos[:0]
	for _, u := range w.utxos {
		if !spent[u.OutPoint] {
			remaining = append(remaining, u)
		}
	}
	w.utxos = remaining

	txid := tx.TxHash()
	for i, out := range tx.TxOut {
		index, ok := w.scripts[string(out.PkScript)]
		if !ok {
			continue
		}
		u := Utxo{
			OutPoint: wire.OutPoint{Hash: txid, Index: uint32(i)},
			TxOut:    out,
			Keychain: descriptor.External,
			Index:    index,
			PrevTx:   tx,
		}
		w.utxos = append(w.utxos, u)
		w.outputs[u.OutPoint] = u
	}
	w.txs[txid] = tx
}

func (w *testWallet) Params() *chaincfg.Params {
	return w.desc.Params()
}

func (w *testWallet) ListUnspent() ([]Utxo, error) {
	return append([]Utxo(nil), w.utxos...), nil
}

func (w *testWallet) ChangeScript() ([]byte, error) {
	return w.desc.Script(w.changeIndex)
}

func (w *testWallet) Derivation(_ descriptor.Keychain, index uint32) (*psbt.Bip32Derivation, error) {
	return w.desc.Bip32Derivation(index)
}

func (w *testWallet) IsMine(script []byte) bool {
	_, ok := w.scripts[string(script)]
	return ok
}

func (w *testWallet) Transaction(txid chainhash.Hash) (*wire.MsgTx, bool, error) {
	tx, ok := w.txs[txid]
	if !ok {
		return nil, false, errNotFound
	}
	return tx, w.confirmed[txid], nil
}

func (w *testWallet) Output(op wire.OutPoint) (*Utxo, error) {
	u, ok := w.outputs[op]
	if !ok {
		return nil, errNotFound
	}
	return &u, nil
}

// withDummyWitness returns a copy of the unsigned tx of packet sized like
// its signed form.
func withDummyWitness(packet *psbt.Packet) *wire.MsgTx {
	tx := packet.UnsignedTx.Copy()
	for _, in := range tx.TxIn {
		in.Witness = wire.TxWitness{make([]byte, dummySignatureSize), make([]byte, dummyPubKeySize)}
	}
	return tx
}

// foreignScript is a P2WPKH script the test wallet does not own.
func foreignScript() []byte {
	script := make([]byte, 22)
	script[0], script[1] = 0x00, 0x14
	for i := 2; i < len(script); i++ {
		script[i] = 0xab
	}
	return script
}
