package core

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	walletstatedb "github.com/Maphikza/devkit-wallet/internal/database"
	"github.com/Maphikza/devkit-wallet/lib/chain"
	"github.com/Maphikza/devkit-wallet/lib/descriptor"
	"github.com/Maphikza/devkit-wallet/lib/keys"
)

const (
	testPhrase  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	otherPhrase = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

var testParams = &chaincfg.TestNet3Params

func testDescriptor(t *testing.T, phrase string, keychain descriptor.Keychain) *descriptor.Descriptor {
	t.Helper()

	mnemonic, err := keys.MnemonicFromString(phrase)
	require.NoError(t, err)
	secret, err := keys.NewDescriptorSecretKey(testParams, mnemonic, "")
	require.NoError(t, err)
	desc, err := descriptor.NewBIP84(secret.Root(), keychain, testParams)
	require.NoError(t, err)
	return desc
}

func openAt(t *testing.T, path string, external, change *descriptor.Descriptor) (*Wallet, error) {
	t.Helper()

	store, err := walletstatedb.InitSQLiteDB(path)
	require.NoError(t, err)
	w, err := Open(store, external, change, testParams)
	if err != nil {
		store.Close()
		return nil, err
	}
	return w, nil
}

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()

	w, err := openAt(t, filepath.Join(t.TempDir(), "wallet.db"), testDescriptor(t, testPhrase, descriptor.External), nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

var fundingCount atomic.Uint32

// fundingTx pays value to the external script at index from a foreign input.
func fundingTx(t *testing.T, w *Wallet, index uint32, value btcutil.Amount) *wire.MsgTx {
	t.Helper()

	n := fundingCount.Add(1)
	script, err := w.external.Script(index)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0xee, byte(n), byte(n >> 8)}, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	return tx
}

func confirmedAt(height int32) chain.TxStatus {
	return chain.TxStatus{Confirmed: true, BlockHeight: height, BlockTime: 1700000000 + int64(height)}
}

func update(tip int32, lastActive map[descriptor.Keychain]uint32, txs ...chain.TxUpdate) *chain.Update {
	if lastActive == nil {
		lastActive = map[descriptor.Keychain]uint32{}
	}
	return &chain.Update{
		LastActiveIndices: lastActive,
		Txs:               txs,
		Prevouts:          map[wire.OutPoint]*wire.TxOut{},
		TipHeight:         tip,
	}
}

func txUpdate(tx *wire.MsgTx, status chain.TxStatus) chain.TxUpdate {
	return chain.TxUpdate{Txid: tx.TxHash(), Tx: tx, Status: status}
}

func TestOpenChecksDescriptors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wallet.db")
	external := testDescriptor(t, testPhrase, descriptor.External)

	w, err := openAt(t, path, external, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = openAt(t, path, external, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = openAt(t, path, testDescriptor(t, otherPhrase, descriptor.External), nil)
	require.ErrorIs(t, err, ErrDescriptorMismatch)

	_, err = openAt(t, path, external, testDescriptor(t, testPhrase, descriptor.Internal))
	require.ErrorIs(t, err, ErrDescriptorMismatch)

	mnemonic, err := keys.MnemonicFromString(testPhrase)
	require.NoError(t, err)
	secret, err := keys.NewDescriptorSecretKey(&chaincfg.MainNetParams, mnemonic, "")
	require.NoError(t, err)
	mainnet, err := descriptor.NewBIP84(secret.Root(), descriptor.External, &chaincfg.MainNetParams)
	require.NoError(t, err)
	store, err := walletstatedb.InitSQLiteDB(filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	defer store.Close()
	_, err = Open(store, mainnet, nil, testParams)
	require.ErrorIs(t, err, descriptor.ErrNetworkMismatch)
}

func TestGetAddress(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wallet.db")
	external := testDescriptor(t, testPhrase, descriptor.External)
	w, err := openAt(t, path, external, nil)
	require.NoError(t, err)

	// Nothing revealed yet: LastUnused reveals index 0.
	info, err := w.GetAddress(LastUnused)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.Index)
	assert.Equal(t, "tb1q6rz28mcfaxtmd6v789l9rrlrusdprr9pqcpvkl", info.Address.EncodeAddress())

	info, err = w.GetAddress(LastUnused)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.Index)

	info, err = w.GetAddress(New)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.Index)

	info, err = w.GetAddress(New)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), info.Index)

	peek, err := w.GetAddress(Peek(40))
	require.NoError(t, err)
	assert.Equal(t, uint32(40), peek.Index)

	// Funds on index 2 make LastUnused move on.
	require.NoError(t, w.ApplyUpdate(update(100, nil, txUpdate(fundingTx(t, w, 2, 5000), confirmedAt(90)))))
	info, err = w.GetAddress(LastUnused)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), info.Index)

	// Revealed indexes survive reopening.
	require.NoError(t, w.Close())
	w, err = openAt(t, path, external, nil)
	require.NoError(t, err)
	defer w.Close()

	info, err = w.GetAddress(New)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), info.Index)
}

func TestIsMineLookahead(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	script, err := w.external.Script(Lookahead - 1)
	require.NoError(t, err)
	assert.True(t, w.IsMine(script))

	script, err = w.external.Script(Lookahead)
	require.NoError(t, err)
	assert.False(t, w.IsMine(script))

	_, err = w.GetAddress(New)
	require.NoError(t, err)
	assert.True(t, w.IsMine(script))

	assert.False(t, w.IsMine([]byte{0x00, 0x14, 0x01}))
}

func TestApplyUpdateRevealsLastActive(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	tx := fundingTx(t, w, 7, 12000)
	lastActive := map[descriptor.Keychain]uint32{descriptor.External: 7}
	require.NoError(t, w.ApplyUpdate(update(200, lastActive, txUpdate(tx, confirmedAt(150)))))

	info, err := w.GetAddress(New)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), info.Index)

	assert.Equal(t, int32(200), w.TipHeight())
	assert.Equal(t, btcutil.Amount(12000), w.Balance().Confirmed)

	script, err := w.external.Script(7 + Lookahead)
	require.NoError(t, err)
	assert.True(t, w.IsMine(script))

	req := w.ScanRequest()
	require.Len(t, req.Keychains, 1)
	assert.True(t, req.KnownTxs[tx.TxHash()])
}

func TestBalanceBuckets(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	confirmed := fundingTx(t, w, 0, 100000)
	pending := fundingTx(t, w, 1, 20000)

	coinbase := wire.NewMsgTx(2)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{0x01, 0x02}, nil))
	script, err := w.external.Script(2)
	require.NoError(t, err)
	coinbase.AddTxOut(wire.NewTxOut(50000, script))

	require.NoError(t, w.ApplyUpdate(update(1000, nil,
		txUpdate(confirmed, confirmedAt(900)),
		txUpdate(coinbase, confirmedAt(950)),
		txUpdate(pending, chain.TxStatus{}),
	)))

	balance := w.Balance()
	assert.Equal(t, btcutil.Amount(100000), balance.Confirmed)
	assert.Equal(t, btcutil.Amount(50000), balance.Immature)
	assert.Equal(t, btcutil.Amount(20000), balance.UntrustedPending)
	assert.Equal(t, btcutil.Amount(0), balance.TrustedPending)
	assert.Equal(t, btcutil.Amount(170000), balance.Total())

	utxos, err := w.ListUnspent()
	require.NoError(t, err)
	assert.Len(t, utxos, 2)

	// The coinbase matures after 100 confirmations.
	require.NoError(t, w.ApplyUpdate(update(1049, nil,
		txUpdate(confirmed, confirmedAt(900)),
		txUpdate(coinbase, confirmedAt(950)),
		txUpdate(pending, chain.TxStatus{}),
	)))
	assert.Equal(t, btcutil.Amount(150000), w.Balance().Confirmed)
}

func TestApplyUpdateDropsStaleTransactions(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	dropped := fundingTx(t, w, 0, 30000)
	kept := fundingTx(t, w, 1, 40000)
	require.NoError(t, w.ApplyUpdate(update(10, nil,
		txUpdate(dropped, chain.TxStatus{}),
		txUpdate(kept, confirmedAt(5)),
	)))
	assert.Equal(t, btcutil.Amount(30000), w.Balance().UntrustedPending)

	local := fundingTx(t, w, 2, 1000)
	require.NoError(t, w.InsertTx(local))

	// The next scan returns only the confirmed transaction.
	require.NoError(t, w.ApplyUpdate(update(11, nil,
		chain.TxUpdate{Txid: kept.TxHash(), Status: confirmedAt(5)},
	)))

	_, _, err := w.Transaction(dropped.TxHash())
	require.ErrorIs(t, err, ErrTxNotFound)
	_, confirmed, err := w.Transaction(kept.TxHash())
	require.NoError(t, err)
	assert.True(t, confirmed)
	_, _, err = w.Transaction(local.TxHash())
	require.NoError(t, err, "recent local broadcasts survive a scan")
}

func TestTransactionDetails(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	funding := fundingTx(t, w, 0, 100000)
	require.NoError(t, w.ApplyUpdate(update(10, nil, txUpdate(funding, confirmedAt(5)))))

	details, err := w.GetTx(funding.TxHash())
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(100000), details.Received)
	assert.Equal(t, btcutil.Amount(0), details.Sent)
	assert.Nil(t, details.Fee, "foreign previous output is unknown")
	require.NotNil(t, details.ConfirmationTime)
	assert.Equal(t, int32(5), details.ConfirmationTime.Height)

	fundingHash := funding.TxHash()
	spend := wire.NewMsgTx(2)
	spend.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fundingHash, 0), nil, nil))
	spend.AddTxOut(wire.NewTxOut(60000, []byte{0x00, 0x14, 0x01, 0x02}))
	change, err := w.external.Script(1)
	require.NoError(t, err)
	spend.AddTxOut(wire.NewTxOut(39000, change))
	require.NoError(t, w.InsertTx(spend))

	details, err = w.GetTx(spend.TxHash())
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(39000), details.Received)
	assert.Equal(t, btcutil.Amount(100000), details.Sent)
	require.NotNil(t, details.Fee)
	assert.Equal(t, btcutil.Amount(1000), *details.Fee)
	assert.Equal(t, btcutil.Amount(-61000), details.Net())
	assert.False(t, details.Confirmed())

	balance := w.Balance()
	assert.Equal(t, btcutil.Amount(0), balance.Confirmed)
	assert.Equal(t, btcutil.Amount(39000), balance.TrustedPending)

	list := w.ListTransactions()
	require.Len(t, list, 2)
	assert.Equal(t, spend.TxHash(), list[0].Txid)
	assert.Equal(t, funding.TxHash(), list[1].Txid)

	_, err = w.GetTx(chainhash.Hash{0x01})
	require.ErrorIs(t, err, ErrTxNotFound)
}

func TestInsertTxDropsReplaced(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	funding := fundingTx(t, w, 0, 50000)
	require.NoError(t, w.ApplyUpdate(update(10, nil, txUpdate(funding, confirmedAt(5)))))

	fundingHash := funding.TxHash()
	prev := wire.NewOutPoint(&fundingHash, 0)
	original := wire.NewMsgTx(2)
	original.AddTxIn(wire.NewTxIn(prev, nil, nil))
	original.AddTxOut(wire.NewTxOut(49000, []byte{0x00, 0x14, 0xaa}))
	require.NoError(t, w.InsertTx(original))

	replacement := wire.NewMsgTx(2)
	replacement.AddTxIn(wire.NewTxIn(prev, nil, nil))
	replacement.AddTxOut(wire.NewTxOut(48000, []byte{0x00, 0x14, 0xaa}))
	require.NoError(t, w.InsertTx(replacement))

	_, _, err := w.Transaction(original.TxHash())
	require.ErrorIs(t, err, ErrTxNotFound)
	_, _, err = w.Transaction(replacement.TxHash())
	require.NoError(t, err)
}

func TestLocalBroadcastGraceExpires(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	local := fundingTx(t, w, 0, 1000)
	require.NoError(t, w.InsertTx(local))

	// Age the broadcast past the grace period.
	w.mu.Lock()
	w.txs[local.TxHash()].lastSeen = time.Now().Add(-2 * LocalBroadcastGrace).Unix()
	w.mu.Unlock()

	require.NoError(t, w.ApplyUpdate(update(10, nil)))
	_, _, err := w.Transaction(local.TxHash())
	require.ErrorIs(t, err, ErrTxNotFound)
}
