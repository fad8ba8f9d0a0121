package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Path is a BIP32 derivation path. Hardened steps carry hdkeychain.HardenedKeyStart.
type Path []uint32

// ParsePath parses "m/84'/1'/0'/0" style paths. The leading "m" is optional
// and hardened steps may be written with ', h or H.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}
		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid path component %q", ErrInvalidPath, part)
		}
		step := uint32(index)
		if hardened {
			step += hdkeychain.HardenedKeyStart
		}
		path = append(path, step)
	}
	return path, nil
}

// String renders the path without the leading "m", using ' for hardened steps.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, step := range p {
		if step >= hdkeychain.HardenedKeyStart {
			parts[i] = strconv.FormatUint(uint64(step-hdkeychain.HardenedKeyStart), 10) + "'"
		} else {
			parts[i] = strconv.FormatUint(uint64(step), 10)
		}
	}
	return strings.Join(parts, "/")
}

// Extend returns a new path with the steps of other appended.
func (p Path) Extend(other Path) Path {
	out := make(Path, 0, len(p)+len(other))
	out = append(out, p...)
	return append(out, other...)
}

// Key is a descriptor key expression: [fingerprint/origin]xkey/path/*.
type Key struct {
	Fingerprint uint32
	Origin      Path
	HasOrigin   bool
	Extended    *hdkeychain.ExtendedKey
	Path        Path
	Wildcard    bool
}

// Fingerprint returns the BIP32 fingerprint of an extended key.
func Fingerprint(key *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return 0, fmt.Errorf("failed to get public key: %w", err)
	}
	return binary.BigEndian.Uint32(btcutil.Hash160(pubKey.SerializeCompressed())[:4]), nil
}

func parseKey(s string) (*Key, error) {
	key := &Key{}

	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated key origin", ErrInvalidKey)
		}
		origin := s[1:end]
		s = s[end+1:]

		fp, rest, _ := strings.Cut(origin, "/")
		raw, err := hex.DecodeString(fp)
		if err != nil || len(raw) != 4 {
			return nil, fmt.Errorf("%w: invalid fingerprint %q", ErrInvalidKey, fp)
		}
		key.Fingerprint = binary.BigEndian.Uint32(raw)
		key.Origin, err = ParsePath(rest)
		if err != nil {
			return nil, err
		}
		key.HasOrigin = true
	}

	xkey, suffix, _ := strings.Cut(s, "/")
	extended, err := hdkeychain.NewKeyFromString(xkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key.Extended = extended

	if suffix != "" {
		if suffix == "*" {
			key.Wildcard = true
			suffix = ""
		} else if strings.HasSuffix(suffix, "/*") {
			key.Wildcard = true
			suffix = strings.TrimSuffix(suffix, "/*")
		} else if strings.HasSuffix(suffix, "*'") || strings.HasSuffix(suffix, "*h") {
			return nil, fmt.Errorf("%w: hardened wildcards are not supported", ErrInvalidKey)
		}
		key.Path, err = ParsePath(suffix)
		if err != nil {
			return nil, err
		}
	}

	return key, nil
}

// String renders the key expression. Private keys stay private.
func (k *Key) String() string {
	var sb strings.Builder
	if k.HasOrigin {
		sb.WriteString("[")
		sb.WriteString(fmt.Sprintf("%08x", k.Fingerprint))
		if len(k.Origin) > 0 {
			sb.WriteString("/")
			sb.WriteString(k.Origin.String())
		}
		sb.WriteString("]")
	}
	sb.WriteString(k.Extended.String())
	if len(k.Path) > 0 {
		sb.WriteString("/")
		sb.WriteString(k.Path.String())
	}
	if k.Wildcard {
		sb.WriteString("/*")
	}
	return sb.String()
}

// Public returns a copy of the key with the extended key neutered. Hardened
// steps after the extended key are folded into the origin.
func (k *Key) Public() (*Key, error) {
	if !k.Extended.IsPrivate() {
		return k, nil
	}

	hardenedEnd := 0
	for i, step := range k.Path {
		if step >= hdkeychain.HardenedKeyStart {
			hardenedEnd = i + 1
		}
	}

	fingerprint, origin := k.Fingerprint, k.Origin
	if !k.HasOrigin {
		fp, err := Fingerprint(k.Extended)
		if err != nil {
			return nil, err
		}
		fingerprint, origin = fp, Path{}
	}

	extended := k.Extended
	for _, step := range k.Path[:hardenedEnd] {
		child, err := extended.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
		extended = child
	}
	neutered, err := extended.Neuter()
	if err != nil {
		return nil, err
	}

	return &Key{
		Fingerprint: fingerprint,
		Origin:      origin.Extend(k.Path[:hardenedEnd]),
		HasOrigin:   hardenedEnd > 0 || k.HasOrigin,
		Extended:    neutered,
		Path:        append(Path{}, k.Path[hardenedEnd:]...),
		Wildcard:    k.Wildcard,
	}, nil
}

// IsPrivate reports whether the key can sign.
func (k *Key) IsPrivate() bool {
	return k.Extended.IsPrivate()
}

// IsForNet reports whether the extended key version matches the network.
func (k *Key) IsForNet(params *chaincfg.Params) bool {
	return k.Extended.IsForNet(params)
}

// Derive returns the child key at index, or the key itself when not ranged.
func (k *Key) Derive(index uint32) (*hdkeychain.ExtendedKey, error) {
	key := k.Extended
	steps := k.Path
	if k.Wildcard {
		steps = steps.Extend(Path{index})
	}
	for _, step := range steps {
		child, err := key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
		key = child
	}
	return key, nil
}

// KeyOrigin returns the master fingerprint and the full derivation path of
// the child at index.
func (k *Key) KeyOrigin(index uint32) (uint32, Path, error) {
	fingerprint, origin := k.Fingerprint, k.Origin
	if !k.HasOrigin {
		fp, err := Fingerprint(k.Extended)
		if err != nil {
			return 0, nil, err
		}
		fingerprint, origin = fp, Path{}
	}
	path := origin.Extend(k.Path)
	if k.Wildcard {
		path = path.Extend(Path{index})
	}
	return fingerprint, path, nil
}

// PubKey derives the compressed public key at index.
func (k *Key) PubKey(index uint32) (*btcec.PublicKey, error) {
	child, err := k.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPubKey()
}

// PrivKey derives the private key at index.
func (k *Key) PrivKey(index uint32) (*btcec.PrivateKey, error) {
	if !k.IsPrivate() {
		return nil, ErrWatchOnly
	}
	child, err := k.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPrivKey()
}
