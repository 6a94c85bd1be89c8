package gflake

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Base2 returns the ID as a binary string
func (id ID) Base2() string {
	return strconv.FormatInt(id.value, 2)
}

// Base36 returns the ID as a lowercase base36 string
func (id ID) Base36() string {
	return strconv.FormatInt(id.value, 36)
}

// Base64 returns the 8 big-endian bytes of the ID as URL-safe base64 without padding
func (id ID) Base64() string {
	b, _ := id.MarshalBinary()
	return base64.RawURLEncoding.EncodeToString(b)
}

// ParseBase2 parses a binary string produced by Base2
func ParseBase2(s string, layout BitLayout) (ID, error) {
	return parseBase(s, 2, layout)
}

// ParseBase36 parses a base36 string produced by Base36
func ParseBase36(s string, layout BitLayout) (ID, error) {
	return parseBase(s, 36, layout)
}

// ParseBase64 parses a string produced by Base64
func ParseBase64(s string, layout BitLayout) (ID, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ID{}, ErrInvalidFormat
	}
	return FromBytes(data, layout)
}

func parseBase(s string, base int, layout BitLayout) (ID, error) {
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q is not base %d", ErrInvalidFormat, s, base)
	}
	return Decode(v, layout)
}

// Bytes returns the ID as 8 big-endian bytes
func (id ID) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id.value))
	return b
}

// FromBytes creates an ID from 8 big-endian bytes
func FromBytes(b []byte, layout BitLayout) (ID, error) {
	if len(b) != 8 {
		return ID{}, ErrInvalidLength
	}
	return Decode(int64(binary.BigEndian.Uint64(b)), layout)
}

// MarshalBinary implements the encoding.BinaryMarshaler interface
func (id ID) MarshalBinary() ([]byte, error) {
	return id.Bytes(), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface
func (id *ID) UnmarshalBinary(data []byte) error {
	parsed, err := FromBytes(data, id.decodingLayout())
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
