package nodes

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// UDID is the 8-byte unique device identifier a node reports when it asks
// for an address.
type UDID [8]byte

// ErrInvalidUDID is returned by ParseUDID.
var ErrInvalidUDID = errors.New("invalid udid")

// ParseUDID parses the colon separated form "01:02:03:04:05:06:07:08".
func ParseUDID(s string) (UDID, error) {
	var id UDID
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(id) {
		return id, fmt.Errorf("%w %q: want %d bytes", ErrInvalidUDID, s, len(id))
	}
	for i, part := range parts {
		if len(part) != 2 {
			return id, fmt.Errorf("%w %q: byte %d", ErrInvalidUDID, s, i)
		}
		if _, err := hex.Decode(id[i:i+1], []byte(part)); err != nil {
			return id, fmt.Errorf("%w %q: %v", ErrInvalidUDID, s, err)
		}
	}
	return id, nil
}

func (u UDID) String() string {
	var b strings.Builder
	for i, c := range u {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex.EncodeToString([]byte{c}))
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (u UDID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UDID) UnmarshalText(text []byte) error {
	id, err := ParseUDID(string(text))
	if err != nil {
		return err
	}
	*u = id
	return nil
}
