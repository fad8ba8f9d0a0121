package keys

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// DescriptorSecretKey is the BIP32 root private key of a mnemonic.
type DescriptorSecretKey struct {
	root *hdkeychain.ExtendedKey
}

// NewDescriptorSecretKey derives the root key for mnemonic on params.
func NewDescriptorSecretKey(params *chaincfg.Params, mnemonic *Mnemonic, passphrase string) (*DescriptorSecretKey, error) {
	seed, err := mnemonic.Seed(passphrase)
	if err != nil {
		return nil, fmt.Errorf("error deriving seed: %w", err)
	}

	root, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("error creating master key: %w", err)
	}

	return &DescriptorSecretKey{root: root}, nil
}

// Root returns the root extended private key.
func (k *DescriptorSecretKey) Root() *hdkeychain.ExtendedKey {
	return k.root
}
