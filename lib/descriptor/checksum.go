package descriptor

import (
	"fmt"
	"strings"
)

const (
	inputCharset    = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLength  = 8
)

func polyMod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}
	return c
}

// Checksum computes the eight character checksum of a descriptor body.
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: character %q", ErrInvalidCharacter, ch)
		}
		c = polyMod(c, pos&31)
		cls = cls*3 + (pos >> 5)
		clsCount++
		if clsCount == 3 {
			c = polyMod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = polyMod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polyMod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for i := 0; i < checksumLength; i++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-i)))&31])
	}
	return sb.String(), nil
}

// AddChecksum appends "#checksum" to a descriptor body.
func AddChecksum(desc string) (string, error) {
	sum, err := Checksum(desc)
	if err != nil {
		return "", err
	}
	return desc + "#" + sum, nil
}

// splitChecksum separates an optional trailing checksum and verifies it.
func splitChecksum(s string) (string, error) {
	body, sum, found := strings.Cut(s, "#")
	if !found {
		return s, nil
	}
	if len(sum) != checksumLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidChecksum, checksumLength, len(sum))
	}
	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if expected != sum {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrInvalidChecksum, expected, sum)
	}
	return body, nil
}
