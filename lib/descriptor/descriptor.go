// Package descriptor implements the subset of BIP380 output descriptors the
// wallet needs: single-key wpkh() over a BIP32 extended key, with checksums.
package descriptor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

var (
	ErrInvalidChecksum       = errors.New("invalid descriptor checksum")
	ErrInvalidCharacter      = errors.New("invalid descriptor character")
	ErrInvalidKey            = errors.New("invalid descriptor key")
	ErrInvalidPath           = errors.New("invalid derivation path")
	ErrUnsupportedDescriptor = errors.New("unsupported descriptor")
	ErrNetworkMismatch       = errors.New("descriptor key does not match network")
	ErrWatchOnly             = errors.New("descriptor has no private key")
	ErrEmptyDescriptor       = errors.New("empty descriptor")
)

// Keychain tells external (receive) scripts apart from internal (change) ones.
type Keychain uint8

const (
	External Keychain = iota
	Internal
)

func (k Keychain) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("keychain(%d)", uint8(k))
	}
}

// Descriptor is a wpkh() output descriptor bound to a network.
type Descriptor struct {
	key    *Key
	params *chaincfg.Params
}

// Parse parses a wpkh descriptor, verifying the checksum when present.
func Parse(s string, params *chaincfg.Params) (*Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyDescriptor
	}

	body, err := splitChecksum(s)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(body, "wpkh(") || !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDescriptor, body)
	}

	key, err := parseKey(body[len("wpkh(") : len(body)-1])
	if err != nil {
		return nil, err
	}
	if !key.IsForNet(params) {
		return nil, fmt.Errorf("%w: %s", ErrNetworkMismatch, params.Name)
	}

	return &Descriptor{key: key, params: params}, nil
}

// NewBIP84 builds the BIP84 descriptor for the first account of root:
// wpkh(root/84'/coin'/0'/keychain/*).
func NewBIP84(root *hdkeychain.ExtendedKey, keychain Keychain, params *chaincfg.Params) (*Descriptor, error) {
	if !root.IsPrivate() {
		return nil, ErrWatchOnly
	}

	// The root key carries the version of whatever network generated it.
	root.SetNet(params)

	scope := waddrmgr.KeyScopeBIP0084
	path := Path{
		scope.Purpose + hdkeychain.HardenedKeyStart,
		params.HDCoinType + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
		uint32(keychain),
	}

	return &Descriptor{
		key: &Key{
			Extended: root,
			Path:     path,
			Wildcard: true,
		},
		params: params,
	}, nil
}

func (d *Descriptor) body() string {
	return "wpkh(" + d.key.String() + ")"
}

// String returns the descriptor with its checksum. A private descriptor
// renders its private key.
func (d *Descriptor) String() string {
	s, _ := AddChecksum(d.body())
	return s
}

// PublicString returns the watch-only form of the descriptor with checksum.
func (d *Descriptor) PublicString() (string, error) {
	pub, err := d.key.Public()
	if err != nil {
		return "", err
	}
	return AddChecksum("wpkh(" + pub.String() + ")")
}

// Checksum returns the descriptor checksum of the public form, which is
// stable between the private and watch-only renderings.
func (d *Descriptor) Checksum() (string, error) {
	pub, err := d.key.Public()
	if err != nil {
		return "", err
	}
	return Checksum("wpkh(" + pub.String() + ")")
}

// Key returns the descriptor key expression.
func (d *Descriptor) Key() *Key {
	return d.key
}

// Params returns the network the descriptor is bound to.
func (d *Descriptor) Params() *chaincfg.Params {
	return d.params
}

// IsRange reports whether the descriptor ends in a wildcard.
func (d *Descriptor) IsRange() bool {
	return d.key.Wildcard
}

// IsPrivate reports whether the descriptor can sign.
func (d *Descriptor) IsPrivate() bool {
	return d.key.IsPrivate()
}

// Address derives the P2WPKH address at index.
func (d *Descriptor) Address(index uint32) (*btcutil.AddressWitnessPubKeyHash, error) {
	pubKey, err := d.key.PubKey(index)
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), d.params,
	)
}

// Script derives the P2WPKH output script at index.
func (d *Descriptor) Script(index uint32) ([]byte, error) {
	addr, err := d.Address(index)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// Bip32Derivation returns the PSBT key origin record of the key at index.
func (d *Descriptor) Bip32Derivation(index uint32) (*psbt.Bip32Derivation, error) {
	fingerprint, path, err := d.key.KeyOrigin(index)
	if err != nil {
		return nil, err
	}
	pubKey, err := d.key.PubKey(index)
	if err != nil {
		return nil, err
	}

	// PSBT serializes the fingerprint little endian.
	var fp [4]byte
	binary.BigEndian.PutUint32(fp[:], fingerprint)

	return &psbt.Bip32Derivation{
		PubKey:               pubKey.SerializeCompressed(),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(fp[:]),
		Bip32Path:            path,
	}, nil
}
