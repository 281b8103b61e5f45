// Package firmware reads and writes node memories and exposes transfers as
// pollable jobs.
package firmware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
)

// MemoryType selects which node memory a transfer targets. The value is the
// memory code sent to the bootloader.
type MemoryType byte

// Memory types.
const (
	Flash  MemoryType = 'F'
	EEPROM MemoryType = 'E'
)

// PageSize is the bootloader's self-programming page size in bytes.
const PageSize = 128

// Maximum transferable sizes. The 4KiB above the flash limit hold the
// bootloader.
const (
	MaxFlashSize  uint32 = 0x7000
	MaxEEPROMSize uint32 = 0x400
)

// ErrUnknownMemory is returned by ParseMemoryType.
var ErrUnknownMemory = errors.New("unknown memory type")

// ParseMemoryType accepts "flash" or "eeprom".
func ParseMemoryType(s string) (MemoryType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flash":
		return Flash, nil
	case "eeprom":
		return EEPROM, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownMemory, s)
	}
}

func (m MemoryType) String() string {
	switch m {
	case Flash:
		return "flash"
	case EEPROM:
		return "eeprom"
	default:
		return fmt.Sprintf("memory(%c)", byte(m))
	}
}

// MaxSize returns the number of bytes that may be read or written.
func (m MemoryType) MaxSize() uint32 {
	switch m {
	case Flash:
		return MaxFlashSize
	case EEPROM:
		return MaxEEPROMSize
	default:
		return 0
	}
}

// Fits reports whether every byte of b lies inside the memory.
func (m MemoryType) Fits(b intelhex.Block) bool {
	return b.End() <= uint64(m.MaxSize())
}
