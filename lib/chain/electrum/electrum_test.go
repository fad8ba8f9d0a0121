package electrum

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/checksum0/go-electrum/electrum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	history   map[string][]*electrum.GetMempoolResult
	txs       map[string]string
	broadcast string
	fee       float32
	tip       int32
	shutdown  bool
}

func (f *fakeClient) GetHistory(_ context.Context, scripthash string) ([]*electrum.GetMempoolResult, error) {
	return f.history[scripthash], nil
}

func (f *fakeClient) GetRawTransaction(_ context.Context, txHash string) (string, error) {
	raw, ok := f.txs[txHash]
	if !ok {
		return "", errors.New("not found")
	}
	return raw, nil
}

func (f *fakeClient) BroadcastTransaction(_ context.Context, rawTx string) (string, error) {
	f.broadcast = rawTx
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (f *fakeClient) GetFee(_ context.Context, _ uint32) (float32, error) {
	return f.fee, nil
}

func (f *fakeClient) SubscribeHeaders(_ context.Context) (<-chan *electrum.SubscribeHeadersResult, error) {
	ch := make(chan *electrum.SubscribeHeadersResult, 1)
	ch <- &electrum.SubscribeHeadersResult{Height: f.tip}
	return ch, nil
}

func (f *fakeClient) Ping(_ context.Context) error { return nil }

func (f *fakeClient) Shutdown() { f.shutdown = true }

func testTx() *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x02}, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(5000, []byte{0x00, 0x14, 0xaa}))
	return tx
}

func serialize(t *testing.T, tx *wire.MsgTx) string {
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes())
}

func TestScriptHash(t *testing.T) {
	t.Parallel()

	// P2PKH script of the genesis coinbase key, as documented by the
	// Electrum protocol.
	script, err := hex.DecodeString("76a91462e907b15cbf27d5425399ebf6f0fb50ebb88f1888ac")
	require.NoError(t, err)
	assert.Equal(t, "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161", ScriptHash(script))
}

func TestScriptHistory(t *testing.T) {
	t.Parallel()

	script := []byte{0x00, 0x14, 0x01}
	client := &fakeClient{history: map[string][]*electrum.GetMempoolResult{
		ScriptHash(script): {
			{Hash: fmt.Sprintf("%064x", 1), Height: 2500000},
			{Hash: fmt.Sprintf("%064x", 2), Height: 0},
			{Hash: fmt.Sprintf("%064x", 3), Height: -1},
		},
	}}
	source := NewSource(client)

	history, err := source.ScriptHistory(context.Background(), script)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.True(t, history[0].Status.Confirmed)
	assert.Equal(t, int32(2500000), history[0].Status.BlockHeight)
	assert.False(t, history[1].Status.Confirmed)
	assert.False(t, history[2].Status.Confirmed)
	assert.Equal(t, fmt.Sprintf("%064x", 2), history[1].Txid.String())

	empty, err := source.ScriptHistory(context.Background(), []byte{0x51})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransactionAndBroadcast(t *testing.T) {
	t.Parallel()

	tx := testTx()
	client := &fakeClient{txs: map[string]string{tx.TxHash().String(): serialize(t, tx)}}
	source := NewSource(client)

	got, err := source.Transaction(context.Background(), tx.TxHash())
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash(), got.TxHash())

	_, err = source.Transaction(context.Background(), chainhash.Hash{0x09})
	require.Error(t, err)

	txid, err := source.Broadcast(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash(), txid)
	assert.Equal(t, serialize(t, tx), client.broadcast)
}

func TestTipAndFee(t *testing.T) {
	t.Parallel()

	client := &fakeClient{tip: 2812345, fee: 0.00002}
	source := NewSource(client)

	tip, err := source.TipHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2812345), tip)

	rate, err := source.EstimateFee(context.Background(), 6)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rate, 0.001)

	client.fee = -1
	_, err = source.EstimateFee(context.Background(), 6)
	require.ErrorIs(t, err, ErrNoFeeEstimate)

	require.NoError(t, source.Close())
	assert.True(t, client.shutdown)
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "http://example.com:50001")
	require.ErrorIs(t, err, ErrInvalidServer)

	_, err = Dial(context.Background(), "tcp://")
	require.ErrorIs(t, err, ErrInvalidServer)
}

func TestParseServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		server string
		scheme string
		addr   string
	}{
		{"ssl://electrum.blockstream.info:60002", "ssl", "electrum.blockstream.info:60002"},
		{"TCP://localhost:50001", "tcp", "localhost:50001"},
		{"localhost:50002", "ssl", "localhost:50002"},
	}
	for _, tt := range tests {
		scheme, addr, err := ParseServer(tt.server)
		require.NoError(t, err, tt.server)
		assert.Equal(t, tt.scheme, scheme)
		assert.Equal(t, tt.addr, addr)
	}

	_, _, err := ParseServer("udp://localhost:50001")
	assert.ErrorIs(t, err, ErrInvalidServer)
}
