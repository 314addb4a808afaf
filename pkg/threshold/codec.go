package threshold

import (
    "encoding/binary"
    "errors"
    "fmt"
)

// Size is the encoded width of a threshold value.
const Size = 8

var ErrShortPayload = errors.New("threshold: payload shorter than 8 bytes")

// Encode returns n as 8 big-endian bytes.
func Encode(n uint64) []byte {
    b := make([]byte, Size)
    binary.BigEndian.PutUint64(b, n)
    return b
}

// Decode reads the first 8 bytes of b as a big-endian unsigned integer.
// Trailing bytes are ignored.
func Decode(b []byte) (uint64, error) {
    if len(b) < Size {
        return 0, fmt.Errorf("%w: got %d", ErrShortPayload, len(b))
    }
    return binary.BigEndian.Uint64(b[:Size]), nil
}
