package datastore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Identifiers prefix every marshaled element, so that elements of different types
// never compare equal and numbers sort before strings.
const (
	IntIdentifier    = 3
	StringIdentifier = 6
)

const (
	NumberMarshalLength = 1 + 1 + 8 // b[0] = type, b[1] = sign, b[2:] = big endian value
)

// StringDelimiter terminates marshaled strings. Every string byte is spread over two bytes
// whose first byte is at least 1, so the delimiter sorts before any continuation of the string.
const StringDelimiter = 0

/* Marshal int64 */
func SortedMarshalInt(i int64) []byte {
	return SortedMarshalUint64(uint64(i), i >= 0)
}

func SortedMarshalUint64(ui uint64, sign bool) []byte {
	b := make([]byte, NumberMarshalLength)

	binary.LittleEndian.PutUint64(b, ui)

	/* store sign of the number */
	if sign {
		b[NumberMarshalLength-2] = 1
	} else {
		b[NumberMarshalLength-2] = 0
	}

	/* store type */
	b[NumberMarshalLength-1] = IntIdentifier

	return reverseByteSlice(b)
}

func SortedUnmarshalInt(b []byte) (int64, error) {
	value, err := SortedUnmarshalUint64(b)
	if err != nil {
		return 0, errors.Wrap(err, "incorrect int64 key representation")
	}

	return int64(value), nil
}

func SortedUnmarshalUint64(b []byte) (uint64, error) {
	if len(b) != NumberMarshalLength {
		return 0, errors.New("incorrect uint64 key size")
	}
	if b[0] != IntIdentifier {
		return 0, errors.Errorf("incorrect number identifier %d", b[0])
	}
	return binary.LittleEndian.Uint64(reverseByteSlice(b[2:])), nil
}

/* Marshal string */
func SortedMarshalString(s string) []byte {
	bytes := make([]byte, 1, 2*len(s)+2)
	bytes[0] = StringIdentifier

	for _, b := range []byte(s) {
		bytes = append(bytes, byteToTwoBytes(b)...)
	}

	bytes = append(bytes, StringDelimiter)

	return bytes
}

func SortedUnmarshalString(b []byte) (string, error) {
	length := len(b)

	if length%2 != 0 || length < 2 {
		return "", errors.New("invalid string key size")
	}
	if b[0] != StringIdentifier {
		return "", errors.Errorf("incorrect string identifier %d", b[0])
	}
	if b[length-1] != StringDelimiter {
		return "", errors.New("invalid byte instead of StringDelimiter at the end of string")
	}

	packedBytes := make([]byte, 0, length/2)
	for i := 1; i < length-1; i += 2 {
		packedBytes = append(packedBytes, twoBytesToByte(b[i], b[i+1]))
	}

	return string(packedBytes), nil
}

/* Auxiliary functions */

func reverseByteSlice(b []byte) []byte {
	c := make([]byte, len(b))

	for i, j := 0, len(b)-1; i <= j; i, j = i+1, j-1 {
		c[i] = b[j]
		c[j] = b[i]
	}

	return c
}

func byteToTwoBytes(b byte) []byte {
	/* b = x * 128 + y, 0 <= y < 128, first byte shifted by one to stay above the delimiter */

	return []byte{b/128 + 1, b % 128}
}

func twoBytesToByte(x, y byte) byte {
	return 128*(x-1) + y
}

// findLengthOfUnmarshal returns the index just past the element starting at startIndex.
func findLengthOfUnmarshal(b []byte, startIndex int) (int, error) {
	switch b[startIndex] {
	case IntIdentifier:
		end := startIndex + NumberMarshalLength
		if end > len(b) {
			return 0, errors.New("truncated number")
		}
		return end, nil
	case StringIdentifier:
		// The delimiter can only appear at odd offsets from the identifier.
		for i := startIndex + 1; i < len(b); i += 2 {
			if b[i] == StringDelimiter {
				return i + 1, nil
			}
		}
		return 0, errors.New("unterminated string")
	default:
		return 0, errors.Errorf("unknown identifier %d", b[startIndex])
	}
}
