package chain

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

type fakeSource struct {
	mu        sync.Mutex
	histories map[string][]HistoryTx
	txs       map[chainhash.Hash]*wire.MsgTx
	queried   map[string]int
	fetched   map[chainhash.Hash]int
	tip       int32
	broadcast chainhash.Hash
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		histories: make(map[string][]HistoryTx),
		txs:       make(map[chainhash.Hash]*wire.MsgTx),
		queried:   make(map[string]int),
		fetched:   make(map[chainhash.Hash]int),
	}
}

func (f *fakeSource) ScriptHistory(_ context.Context, script []byte) ([]HistoryTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hex.EncodeToString(script)
	f.queried[key]++
	return f.histories[key], nil
}

func (f *fakeSource) Transaction(_ context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched[txid]++
	return f.txs[txid], nil
}

func (f *fakeSource) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	if f.broadcast != (chainhash.Hash{}) {
		return f.broadcast, nil
	}
	return tx.TxHash(), nil
}

func (f *fakeSource) TipHeight(context.Context) (int32, error) {
	return f.tip, nil
}

func (f *fakeSource) Close() error { return nil }

func testScript(keychain descriptor.Keychain, index uint32) []byte {
	return []byte{0x00, 0x14, byte(keychain), byte(index)}
}

func keychainScripts(keychain descriptor.Keychain) KeychainScripts {
	return KeychainScripts{
		Keychain: keychain,
		Script: func(index uint32) ([]byte, error) {
			return testScript(keychain, index), nil
		},
	}
}

func (f *fakeSource) fund(keychain descriptor.Keychain, index uint32, lockTime uint32, status TxStatus) chainhash.Hash {
	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime
	tx.AddTxOut(wire.NewTxOut(1000, testScript(keychain, index)))
	txid := tx.TxHash()
	f.txs[txid] = tx
	key := hex.EncodeToString(testScript(keychain, index))
	f.histories[key] = append(f.histories[key], HistoryTx{Txid: txid, Status: status})
	return txid
}

func TestFullScanStopsAtGap(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	source.tip = 120
	confirmed := source.fund(descriptor.External, 0, 1, TxStatus{Confirmed: true, BlockHeight: 100})
	pending := source.fund(descriptor.External, 3, 2, TxStatus{})
	change := source.fund(descriptor.Internal, 1, 3, TxStatus{Confirmed: true, BlockHeight: 110})

	client := NewClient(source)
	update, err := client.FullScan(context.Background(), ScanRequest{
		Keychains: []KeychainScripts{
			keychainScripts(descriptor.External),
			keychainScripts(descriptor.Internal),
		},
	}, 5, 1)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), update.LastActiveIndices[descriptor.External])
	assert.Equal(t, uint32(1), update.LastActiveIndices[descriptor.Internal])
	assert.Equal(t, int32(120), update.TipHeight)

	// Indexes 0..3 plus a gap of five on the external keychain.
	for i := uint32(0); i <= 8; i++ {
		assert.Equal(t, 1, source.queried[hex.EncodeToString(testScript(descriptor.External, i))], "index %d", i)
	}
	assert.Zero(t, source.queried[hex.EncodeToString(testScript(descriptor.External, 9))])

	require.Len(t, update.Txs, 3)
	assert.Equal(t, confirmed, update.Txs[0].Txid)
	assert.Equal(t, change, update.Txs[1].Txid)
	assert.Equal(t, pending, update.Txs[2].Txid)
	for _, tx := range update.Txs {
		assert.NotNil(t, tx.Tx)
	}
}

func TestFullScanParallelBatches(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	source.fund(descriptor.External, 2, 1, TxStatus{Confirmed: true, BlockHeight: 10})
	source.fund(descriptor.External, 5, 2, TxStatus{Confirmed: true, BlockHeight: 11})

	client := NewClient(source)
	update, err := client.FullScan(context.Background(), ScanRequest{
		Keychains: []KeychainScripts{keychainScripts(descriptor.External)},
	}, 3, 4)
	require.NoError(t, err)

	assert.Equal(t, uint32(5), update.LastActiveIndices[descriptor.External])
	assert.Len(t, update.Txs, 2)
	// Whole batches of four are fetched: 0..3, 4..7 and 8..11.
	assert.Len(t, source.queried, 12)
}

func TestFullScanEmptyWallet(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	client := NewClient(source)
	update, err := client.FullScan(context.Background(), ScanRequest{
		Keychains: []KeychainScripts{keychainScripts(descriptor.External)},
	}, 10, 1)
	require.NoError(t, err)

	assert.Empty(t, update.LastActiveIndices)
	assert.Empty(t, update.Txs)
	assert.Len(t, source.queried, 10)
}

func TestFullScanSkipsKnownTransactions(t *testing.T) {
	t.Parallel()

	source := newFakeSource()
	txid := source.fund(descriptor.External, 0, 1, TxStatus{Confirmed: true, BlockHeight: 5})

	client := NewClient(source)
	update, err := client.FullScan(context.Background(), ScanRequest{
		Keychains: []KeychainScripts{keychainScripts(descriptor.External)},
		KnownTxs:  map[chainhash.Hash]bool{txid: true},
	}, 2, 1)
	require.NoError(t, err)

	require.Len(t, update.Txs, 1)
	assert.Nil(t, update.Txs[0].Tx)
	assert.True(t, update.Txs[0].Status.Confirmed)
	assert.Zero(t, source.fetched[txid])
}

func TestFullScanRejectsBadParams(t *testing.T) {
	t.Parallel()

	client := NewClient(newFakeSource())
	_, err := client.FullScan(context.Background(), ScanRequest{}, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidScanParams)
}

func TestBroadcastChecksTxid(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(500, []byte{0x51}))

	source := newFakeSource()
	client := NewClient(source)
	txid, err := client.Broadcast(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash(), txid)

	source.broadcast = chainhash.Hash{0x01}
	_, err = client.Broadcast(context.Background(), tx)
	assert.ErrorIs(t, err, ErrTxIDMismatch)

	_, err = client.EstimateFeeRate(context.Background(), 6)
	assert.ErrorIs(t, err, ErrNotSupported)
}
