package esplora

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Maphikza/devkit-wallet/lib/chain"
)

type txStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int32 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

func (s txStatus) toStatus() chain.TxStatus {
	return chain.TxStatus{
		Confirmed:   s.Confirmed,
		BlockHeight: s.BlockHeight,
		BlockTime:   s.BlockTime,
	}
}

type prevout struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        int64  `json:"value"`
}

type vin struct {
	Txid       string   `json:"txid"`
	Vout       uint32   `json:"vout"`
	IsCoinbase bool     `json:"is_coinbase"`
	Prevout    *prevout `json:"prevout"`
}

type esploraTx struct {
	Txid   string   `json:"txid"`
	Vin    []vin    `json:"vin"`
	Status txStatus `json:"status"`
}

func parseTransactions(body []byte) ([]esploraTx, error) {
	var txs []esploraTx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("invalid transactions response: %w", err)
	}
	return txs, nil
}

func (t esploraTx) toHistory() (chain.HistoryTx, error) {
	txid, err := chainhash.NewHashFromStr(t.Txid)
	if err != nil {
		return chain.HistoryTx{}, fmt.Errorf("invalid txid %q: %w", t.Txid, err)
	}

	entry := chain.HistoryTx{Txid: *txid, Status: t.Status.toStatus()}
	for _, in := range t.Vin {
		if in.IsCoinbase || in.Prevout == nil {
			continue
		}
		prevHash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return chain.HistoryTx{}, fmt.Errorf("invalid prevout txid %q: %w", in.Txid, err)
		}
		script, err := hex.DecodeString(in.Prevout.ScriptPubKey)
		if err != nil {
			return chain.HistoryTx{}, fmt.Errorf("invalid prevout script: %w", err)
		}
		if entry.Prevouts == nil {
			entry.Prevouts = make(map[wire.OutPoint]*wire.TxOut)
		}
		entry.Prevouts[*wire.NewOutPoint(prevHash, in.Vout)] = wire.NewTxOut(in.Prevout.Value, script)
	}
	return entry, nil
}

func decodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}
