package odbc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// ODBC wide-character APIs take UTF-16 code units in host order. Code units are
// produced through a little-endian byte stream, so the result does not depend on
// the host byte order.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// encodeUTF16 transcodes UTF-8 text into UTF-16 code units without a terminator.
func encodeUTF16(s string) ([]uint16, error) {
	if s == "" {
		return nil, nil
	}
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return out, nil
}

// decodeUTF16 transcodes a NUL-terminated buffer, such as a column name or a
// diagnostic message, stopping at the first NUL.
func decodeUTF16(u []uint16) string {
	for i, c := range u {
		if c == 0 {
			u = u[:i]
			break
		}
	}
	return decodeUTF16Units(u)
}

// decodeUTF16Units transcodes exactly the given code units. NULs are data.
func decodeUTF16Units(u []uint16) string {
	if len(u) == 0 {
		return ""
	}
	b := make([]byte, 2*len(u))
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[2*i:], c)
	}
	s, _ := utf16le.NewDecoder().Bytes(b)
	return string(s)
}
