// Package intelhex reads and writes firmware images in the Intel HEX format.
package intelhex

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Record types.
const (
	recordData                   = 0x00
	recordEOF                    = 0x01
	recordExtendedSegmentAddress = 0x02
	recordStartSegmentAddress    = 0x03
	recordExtendedLinearAddress  = 0x04
	recordStartLinearAddress     = 0x05
)

// bytesPerRecord is the data length of records written by Encode.
const bytesPerRecord = 16

// ErrUnexpectedEOF reports input that ends without an EOF record.
var ErrUnexpectedEOF = errors.New("intelhex: missing end of file record")

// Block is a contiguous run of bytes starting at Address.
type Block struct {
	Address uint32
	Data    []byte
}

// End returns the address following the block's last byte. It is 64 bits
// wide so a block reaching the top of the 32-bit address space does not wrap.
func (b Block) End() uint64 {
	return uint64(b.Address) + uint64(len(b.Data))
}

// Image is a sparse memory image. The zero value is an empty image.
type Image struct {
	Blocks []Block
	// Warnings lists records that were skipped while decoding.
	Warnings []string
}

// Add appends data at address, merging it into a block that ends exactly
// where data begins.
func (img *Image) Add(address uint32, data []byte) {
	for i := range img.Blocks {
		if img.Blocks[i].End() == uint64(address) {
			img.Blocks[i].Data = append(img.Blocks[i].Data, data...)
			return
		}
	}
	img.Blocks = append(img.Blocks, Block{Address: address, Data: append([]byte(nil), data...)})
}

// Size returns the number of data bytes in the image.
func (img *Image) Size() int {
	n := 0
	for _, b := range img.Blocks {
		n += len(b.Data)
	}
	return n
}

// Sorted returns the blocks ordered by address.
func (img *Image) Sorted() []Block {
	out := append([]Block(nil), img.Blocks...)
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Decode parses Intel HEX records from r until the EOF record.
func Decode(r io.Reader) (*Image, error) {
	img := &Image{}
	var base uint32

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text[0] != ':' {
			return nil, fmt.Errorf("intelhex: line %d: missing ':' record mark", line)
		}
		rec, err := hex.DecodeString(text[1:])
		if err != nil {
			return nil, fmt.Errorf("intelhex: line %d: %w", line, err)
		}
		if len(rec) < 5 || len(rec) != 5+int(rec[0]) {
			return nil, fmt.Errorf("intelhex: line %d: record length mismatch", line)
		}
		if sum := checksum(rec[:len(rec)-1]); sum != rec[len(rec)-1] {
			return nil, fmt.Errorf("intelhex: line %d: checksum %02x, expected %02x", line, rec[len(rec)-1], sum)
		}

		count := int(rec[0])
		offset := uint32(rec[1])<<8 | uint32(rec[2])
		data := rec[4 : 4+count]
		switch rec[3] {
		case recordData:
			img.Add(base+offset, data)
		case recordEOF:
			if count != 0 {
				return nil, fmt.Errorf("intelhex: line %d: end of file record has data", line)
			}
			return img, nil
		case recordExtendedSegmentAddress:
			if count != 2 {
				return nil, fmt.Errorf("intelhex: line %d: extended segment address must be 2 bytes", line)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 4
		case recordExtendedLinearAddress:
			if count != 2 {
				return nil, fmt.Errorf("intelhex: line %d: extended linear address must be 2 bytes", line)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 16
		case recordStartSegmentAddress, recordStartLinearAddress:
			if count != 4 {
				return nil, fmt.Errorf("intelhex: line %d: start address must be 4 bytes", line)
			}
			img.Warnings = append(img.Warnings, fmt.Sprintf("line %d: start address record ignored", line))
		default:
			img.Warnings = append(img.Warnings, fmt.Sprintf("line %d: unknown record type %02x ignored", line, rec[3]))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("intelhex: read: %w", err)
	}
	return nil, fmt.Errorf("%w after line %d", ErrUnexpectedEOF, line)
}

// Encode writes img as Intel HEX, emitting extended linear address records
// whenever data crosses a 64KiB boundary.
func Encode(w io.Writer, img *Image) error {
	bw := bufio.NewWriter(w)
	var upper uint32
	for _, block := range img.Sorted() {
		for pos := 0; pos < len(block.Data); {
			addr := block.Address + uint32(pos)
			if hi := addr >> 16; hi != upper {
				if err := writeRecord(bw, 0, recordExtendedLinearAddress, []byte{byte(hi >> 8), byte(hi)}); err != nil {
					return err
				}
				upper = hi
			}
			n := bytesPerRecord
			if rem := len(block.Data) - pos; rem < n {
				n = rem
			}
			// Records never straddle a 64KiB boundary.
			if room := 0x10000 - int(addr&0xFFFF); room < n {
				n = room
			}
			if err := writeRecord(bw, uint16(addr), recordData, block.Data[pos:pos+n]); err != nil {
				return err
			}
			pos += n
		}
	}
	if err := writeRecord(bw, 0, recordEOF, nil); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("intelhex: flush: %w", err)
	}
	return nil
}

func writeRecord(w *bufio.Writer, offset uint16, kind byte, data []byte) error {
	rec := make([]byte, 0, 5+len(data))
	rec = append(rec, byte(len(data)), byte(offset>>8), byte(offset), kind)
	rec = append(rec, data...)
	rec = append(rec, checksum(rec))
	if _, err := fmt.Fprintf(w, ":%s\n", strings.ToUpper(hex.EncodeToString(rec))); err != nil {
		return fmt.Errorf("intelhex: write record: %w", err)
	}
	return nil
}

func checksum(rec []byte) byte {
	var sum byte
	for _, b := range rec {
		sum += b
	}
	return -sum
}
