package guid

import (
	"fmt"
)

// Digits splits identifiers into fixed-width digits, most significant first.
type Digits struct {
	bits   uint
	count  int
	values int
}

// MaxDigitValues is the widest digit base.
const MaxDigitValues = 256

// NewDigits returns the digit layout for the given base. The base must be
// 2, 4, 16 or 256 so that every digit sits inside one byte.
func NewDigits(values int) (Digits, error) {
	var bits uint
	switch values {
	case 2:
		bits = 1
	case 4:
		bits = 2
	case 16:
		bits = 4
	case MaxDigitValues:
		bits = 8
	default:
		return Digits{}, fmt.Errorf("digit values %d: must be one of 2, 4, 16, 256", values)
	}
	return Digits{bits: bits, count: Bits / int(bits), values: values}, nil
}

// MustDigits is like NewDigits but panics on a bad base.
func MustDigits(values int) Digits {
	d, err := NewDigits(values)
	if err != nil {
		panic(err)
	}
	return d
}

// Count is the number of digits per identifier.
func (d Digits) Count() int { return d.count }

// Values is the number of distinct values a digit can take.
func (d Digits) Values() int { return d.values }

// BitsPerDigit is log2(Values).
func (d Digits) BitsPerDigit() int { return int(d.bits) }

// At returns digit i of id.
func (d Digits) At(id ID, i int) int {
	off := uint(i) * d.bits
	shift := 8 - d.bits - off%8
	return int(id[off/8]>>shift) & (d.values - 1)
}

// Split returns every digit of id.
func (d Digits) Split(id ID) []int {
	out := make([]int, d.count)
	for i := range out {
		out[i] = d.At(id, i)
	}
	return out
}

// Join is the inverse of Split.
func (d Digits) Join(digits []int) ID {
	if len(digits) != d.count {
		panic(fmt.Sprintf("guid: %d digits, want %d", len(digits), d.count))
	}
	var id ID
	for i, v := range digits {
		off := uint(i) * d.bits
		shift := 8 - d.bits - off%8
		id[off/8] |= byte(v&(d.values-1)) << shift
	}
	return id
}

// FirstDiff returns the index of the first digit in which a and b differ,
// or Count() if they are equal.
func (d Digits) FirstDiff(a, b ID) int {
	for i := 0; i < Size; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			lead := uint(0)
			for x&0x80 == 0 {
				x <<= 1
				lead++
			}
			return (i*8 + int(lead)) / int(d.bits)
		}
	}
	return d.count
}
