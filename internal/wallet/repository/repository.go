// Package repository persists the wallet descriptors and recovery phrase in a
// dotenv file, optionally sealed with a storage passphrase.
package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	descriptorKey       = "DESCRIPTOR"
	changeDescriptorKey = "CHANGE_DESCRIPTOR"
	mnemonicKey         = "MNEMONIC"
	encryptedKey        = "ENCRYPTED"
)

var (
	ErrNoWallet           = errors.New("no wallet has been saved")
	ErrPassphraseRequired = errors.New("wallet repository is encrypted, a storage passphrase is required")
)

// InitialWalletData is what the wallet needs to be opened again.
type InitialWalletData struct {
	Descriptor       string
	ChangeDescriptor string
}

// Repository is a key-value store for the wallet secrets.
type Repository struct {
	path       string
	passphrase string
}

// New returns a repository stored at path. An empty passphrase stores values
// in the clear.
func New(path, passphrase string) *Repository {
	return &Repository{path: path, passphrase: passphrase}
}

// SaveWallet stores the descriptor pair and the recovery phrase in a single
// write. The change descriptor may be empty.
func (r *Repository) SaveWallet(descriptor, changeDescriptor, mnemonic string) error {
	return r.update(map[string]string{
		descriptorKey:       descriptor,
		changeDescriptorKey: changeDescriptor,
		mnemonicKey:         mnemonic,
	})
}

// GetInitialWalletData returns the stored descriptor pair.
func (r *Repository) GetInitialWalletData() (InitialWalletData, error) {
	values, err := r.read()
	if err != nil {
		return InitialWalletData{}, err
	}
	if values[descriptorKey] == "" {
		return InitialWalletData{}, ErrNoWallet
	}
	return InitialWalletData{
		Descriptor:       values[descriptorKey],
		ChangeDescriptor: values[changeDescriptorKey],
	}, nil
}

// GetMnemonic returns the stored recovery phrase.
func (r *Repository) GetMnemonic() (string, error) {
	values, err := r.read()
	if err != nil {
		return "", err
	}
	if values[mnemonicKey] == "" {
		return "", ErrNoWallet
	}
	return values[mnemonicKey], nil
}

// HasWallet reports whether a descriptor has been saved.
func (r *Repository) HasWallet() bool {
	raw, err := godotenv.Read(r.path)
	if err != nil {
		return false
	}
	return raw[descriptorKey] != ""
}

// Clear removes the repository file.
func (r *Repository) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing wallet repository: %w", err)
	}
	return nil
}

// read returns the stored values in the clear.
func (r *Repository) read() (map[string]string, error) {
	raw, err := godotenv.Read(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoWallet
		}
		return nil, fmt.Errorf("error loading wallet file: %w", err)
	}

	if raw[encryptedKey] != "true" {
		return raw, nil
	}
	if r.passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if key == encryptedKey || value == "" {
			continue
		}
		plain, err := open(value, r.passphrase)
		if err != nil {
			return nil, fmt.Errorf("error decrypting %s: %w", key, err)
		}
		values[key] = plain
	}
	return values, nil
}

// update merges changes into the stored values and rewrites the file, sealed
// with the current passphrase when one is set.
func (r *Repository) update(changes map[string]string) error {
	values, err := r.read()
	if errors.Is(err, ErrNoWallet) {
		values = map[string]string{}
	} else if err != nil {
		return err
	}
	delete(values, encryptedKey)
	for key, value := range changes {
		values[key] = value
	}

	out := make(map[string]string, len(values)+1)
	for key, value := range values {
		if r.passphrase == "" || value == "" {
			out[key] = value
			continue
		}
		sealed, err := seal(value, r.passphrase)
		if err != nil {
			return fmt.Errorf("error encrypting %s: %w", key, err)
		}
		out[key] = sealed
	}
	if r.passphrase != "" {
		out[encryptedKey] = "true"
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("error creating wallet directory: %w", err)
	}
	if err := godotenv.Write(out, r.path); err != nil {
		return fmt.Errorf("error saving wallet data: %w", err)
	}
	if err := os.Chmod(r.path, 0600); err != nil {
		log.WithError(err).Warn("could not restrict wallet repository permissions")
	}
	return nil
}
