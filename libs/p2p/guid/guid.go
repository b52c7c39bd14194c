// Package guid implements the identifier space of the overlay: 160-bit
// unsigned integers on a ring of size 2^160.
package guid

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"math/big"
	"math/rand"
	"regexp"
	"strings"
)

const (
	// Bits is the width of an identifier.
	Bits = 160
	// Size is the length of an identifier in bytes.
	Size = Bits / 8
)

var (
	ErrOutOfRange = errors.New("guid outside of identifier space")
	ErrSyntax     = errors.New("guid must match 0x[0-9a-fA-F]+")

	hexGUID = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

	modulus = new(big.Int).Lsh(big.NewInt(1), Bits)
)

// ID is a big-endian identifier. The zero value is the identifier 0.
type ID [Size]byte

// Modulus returns 2^Bits.
func Modulus() *big.Int {
	return new(big.Int).Set(modulus)
}

// FromBytes interprets b as a big-endian unsigned integer. Leading zero
// bytes are accepted; any value of 2^Bits or more is rejected.
func FromBytes(b []byte) (ID, error) {
	var id ID
	for len(b) > Size {
		if b[0] != 0 {
			return id, ErrOutOfRange
		}
		b = b[1:]
	}
	copy(id[Size-len(b):], b)
	return id, nil
}

// FromBig converts a non-negative big integer below the modulus.
func FromBig(i *big.Int) (ID, error) {
	if i.Sign() < 0 || i.Cmp(modulus) >= 0 {
		return ID{}, ErrOutOfRange
	}
	return FromBytes(i.Bytes())
}

// Parse reads an identifier written as 0x followed by hex digits.
func Parse(s string) (ID, error) {
	if !hexGUID.MatchString(s) {
		return ID{}, ErrSyntax
	}
	digits := s[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return ID{}, ErrSyntax
	}
	return FromBytes(b)
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromHash returns the SHA1 digest of data as an identifier.
func FromHash(data []byte) ID {
	return ID(sha1.Sum(data))
}

// Random draws a uniformly distributed identifier from r.
func Random(r *rand.Rand) ID {
	var id ID
	r.Read(id[:])
	return id
}

// Bytes returns the minimal big-endian encoding of id, empty for zero.
func (id ID) Bytes() []byte {
	i := 0
	for i < Size && id[i] == 0 {
		i++
	}
	out := make([]byte, Size-i)
	copy(out, id[i:])
	return out
}

// Big returns id as a big integer.
func (id ID) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Uint64 returns the low 64 bits of id.
func (id ID) Uint64() uint64 {
	var v uint64
	for _, b := range id[Size-8:] {
		v = v<<8 | uint64(b)
	}
	return v
}

// String prints the eight high-order hex digits, enough to tell nodes apart
// in logs.
func (id ID) String() string {
	return hex.EncodeToString(id[:4])
}

// Hex prints all 40 hex digits with a 0x prefix.
func (id ID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// TerminalString implements log.TerminalStringer.
func (id ID) TerminalString() string {
	return id.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	v, err := Parse(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Cmp compares id and o as unsigned integers.
func (id ID) Cmp(o ID) int {
	for i := 0; i < Size; i++ {
		switch {
		case id[i] < o[i]:
			return -1
		case id[i] > o[i]:
			return 1
		}
	}
	return 0
}

// Add returns id+o mod 2^Bits.
func (id ID) Add(o ID) ID {
	var out ID
	var carry uint16
	for i := Size - 1; i >= 0; i-- {
		s := uint16(id[i]) + uint16(o[i]) + carry
		out[i] = byte(s)
		carry = s >> 8
	}
	return out
}

// Sub returns id-o mod 2^Bits.
func (id ID) Sub(o ID) ID {
	var out ID
	var borrow int16
	for i := Size - 1; i >= 0; i-- {
		d := int16(id[i]) - int16(o[i]) - borrow
		if d < 0 {
			d += 256
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = byte(d)
	}
	return out
}

// Dist is the ring distance between a and b, the shorter of the two arcs.
func Dist(a, b ID) ID {
	one := b.Sub(a)
	two := a.Sub(b)
	if one.Cmp(two) <= 0 {
		return one
	}
	return two
}

// InRange reports whether x lies on the clockwise arc from low to high,
// both ends included. When low == high the arc is the single point low.
func InRange(low, high, x ID) bool {
	return x.Sub(low).Cmp(high.Sub(low)) <= 0
}
