package firmware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
)

func TestParseMemoryType(t *testing.T) {
	t.Parallel()

	mem, err := ParseMemoryType("flash")
	require.NoError(t, err)
	require.Equal(t, Flash, mem)
	require.Equal(t, uint32(0x7000), mem.MaxSize())

	mem, err = ParseMemoryType(" EEPROM ")
	require.NoError(t, err)
	require.Equal(t, EEPROM, mem)
	require.Equal(t, "eeprom", mem.String())
	require.Equal(t, uint32(0x400), mem.MaxSize())

	_, err = ParseMemoryType("ram")
	require.ErrorIs(t, err, ErrUnknownMemory)
}

func TestMemoryTypeFits(t *testing.T) {
	t.Parallel()

	require.True(t, EEPROM.Fits(intelhex.Block{Address: MaxEEPROMSize - 2, Data: []byte{1, 2}}))
	require.False(t, EEPROM.Fits(intelhex.Block{Address: MaxEEPROMSize - 1, Data: []byte{1, 2}}))
	require.False(t, Flash.Fits(intelhex.Block{Address: 0xFFFFFFF0, Data: make([]byte, 16)}))
	require.False(t, Flash.Fits(intelhex.Block{Address: 0xFFFFFFFF, Data: []byte{1}}))
}
