// Package transaction builds unsigned PSBTs spending wallet outputs.
package transaction

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Maphikza/devkit-wallet/lib/descriptor"
)

const (
	// RBFSequenceNumber signals opt-in replaceability (BIP125).
	RBFSequenceNumber = wire.MaxTxInSequenceNum - 2
	// DefaultFeeRate is used when the builder is given no fee rate.
	DefaultFeeRate = FeeRate(1)
	// MaxStandardTxWeight is the largest transaction relayed by default.
	MaxStandardTxWeight = 400000
)

var (
	ErrNoRecipients      = errors.New("transaction has no recipients")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOutputBelowDust   = errors.New("output amount below dust limit")
	ErrInvalidAddress    = errors.New("invalid recipient address")
	ErrInvalidFeeRate    = errors.New("fee rate must be positive")
	ErrDataTooLarge      = errors.New("OP_RETURN data too large")
	ErrTxTooLarge        = errors.New("transaction exceeds maximum standard weight")
	ErrTxConfirmed       = errors.New("transaction already confirmed")
	ErrIrreplaceable     = errors.New("transaction does not signal replaceability")
	ErrForeignInput      = errors.New("transaction spends outputs not owned by the wallet")
	ErrFeeTooLow         = errors.New("replacement fee too low")
)

// FeeRate is a fee rate in sat/vB.
type FeeRate float64

// FeeForVSize returns the fee for a transaction of vsize virtual bytes,
// rounded up to the next satoshi.
func (r FeeRate) FeeForVSize(vsize int64) btcutil.Amount {
	return btcutil.Amount(math.Ceil(float64(r) * float64(vsize)))
}

func (r FeeRate) String() string {
	return fmt.Sprintf("%.2f sat/vB", float64(r))
}

// Recipient is a payment to an address.
type Recipient struct {
	Address string
	Amount  btcutil.Amount
}

// Script decodes the recipient address for params and returns its output
// script.
func (r Recipient) Script(params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(r.Address, params)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, r.Address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%w %q: not a %s address", ErrInvalidAddress, r.Address, params.Name)
	}
	return txscript.PayToAddrScript(addr)
}

// Utxo is a wallet owned output.
type Utxo struct {
	OutPoint  wire.OutPoint
	TxOut     *wire.TxOut
	Keychain  descriptor.Keychain
	Index     uint32
	Confirmed bool
	// PrevTx is the funding transaction when it is known.
	PrevTx *wire.MsgTx
}

// Wallet is what the builders need from the wallet.
type Wallet interface {
	Params() *chaincfg.Params
	// ListUnspent returns the spendable outputs.
	ListUnspent() ([]Utxo, error)
	// ChangeScript returns the script change should be paid to.
	ChangeScript() ([]byte, error)
	// Derivation returns the BIP32 origin of the key at index on keychain.
	Derivation(keychain descriptor.Keychain, index uint32) (*psbt.Bip32Derivation, error)
	// IsMine reports whether script is derived by the wallet.
	IsMine(script []byte) bool
}

// BumpWallet is what BumpFeeTxBuilder needs on top of Wallet.
type BumpWallet interface {
	Wallet
	// Transaction returns a stored transaction and whether it is confirmed.
	Transaction(txid chainhash.Hash) (*wire.MsgTx, bool, error)
	// Output returns the owned output at op, spent or not.
	Output(op wire.OutPoint) (*Utxo, error)
}
