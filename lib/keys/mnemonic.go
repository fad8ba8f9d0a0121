// Package keys holds BIP39 mnemonics and the BIP32 root secret derived from
// them.
package keys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidWordCount = errors.New("word count must be 12 or 24")
	ErrInvalidMnemonic  = errors.New("invalid mnemonic phrase")
)

// WordCount is the number of words in a mnemonic.
type WordCount int

const (
	Words12 WordCount = 12
	Words24 WordCount = 24
)

func (w WordCount) entropyBits() (int, error) {
	switch w {
	case Words12:
		return 128, nil
	case Words24:
		return 256, nil
	default:
		return 0, ErrInvalidWordCount
	}
}

// Mnemonic is a validated BIP39 phrase.
type Mnemonic struct {
	phrase string
}

// NewMnemonic generates a fresh mnemonic from system entropy.
func NewMnemonic(count WordCount) (*Mnemonic, error) {
	bits, err := count.entropyBits()
	if err != nil {
		return nil, err
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return nil, fmt.Errorf("error generating entropy: %w", err)
	}

	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("error generating mnemonic: %w", err)
	}

	return &Mnemonic{phrase: phrase}, nil
}

// MnemonicFromString validates a recovery phrase. Surrounding and repeated
// whitespace is ignored and words are lowercased.
func MnemonicFromString(phrase string) (*Mnemonic, error) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) != int(Words12) && len(words) != int(Words24) {
		return nil, fmt.Errorf("%w: got %d words", ErrInvalidMnemonic, len(words))
	}

	normalized := strings.Join(words, " ")
	if _, err := bip39.MnemonicToByteArray(normalized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return &Mnemonic{phrase: normalized}, nil
}

// String returns the space separated phrase.
func (m *Mnemonic) String() string {
	return m.phrase
}

// Words returns the phrase split into words.
func (m *Mnemonic) Words() []string {
	return strings.Fields(m.phrase)
}

// Seed returns the 64 byte BIP39 seed for the optional passphrase.
func (m *Mnemonic) Seed(passphrase string) ([]byte, error) {
	return bip39.NewSeedWithErrorChecking(m.phrase, passphrase)
}
