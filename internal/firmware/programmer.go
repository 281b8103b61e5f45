package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/clock"
	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
)

var (
	// ErrNoAck is returned when the target node does not answer.
	ErrNoAck = errors.New("node did not acknowledge")
	// ErrUnaligned is returned for reads that are not a whole number of pages.
	ErrUnaligned = errors.New("size must be a multiple of the page size")
)

// ProgressFunc receives a completion percentage between 0 and 100.
type ProgressFunc func(pct uint)

// ContactFunc is told that node answered the bus master at the given time.
type ContactFunc func(node uint8, at time.Time)

// Programmer transfers memory images to and from nodes and sends them
// system commands.
type Programmer interface {
	Read(ctx context.Context, node uint8, mem MemoryType, length uint32, progress ProgressFunc) (*intelhex.Image, error)
	Write(ctx context.Context, node uint8, mem MemoryType, img *intelhex.Image, progress ProgressFunc) error
	Ping(ctx context.Context, node uint8) error
	Reboot(ctx context.Context, node uint8) error
}

// MemoryProgrammer is a Programmer backed by in-process node memories. It
// walks memories page by page like the bootloader protocol does, waiting
// pageDelay on the injected clock between pages.
type MemoryProgrammer struct {
	clock     clock.Clock
	pageDelay time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	memories  map[uint8]map[MemoryType][]byte
	onContact ContactFunc
}

// NewMemoryProgrammer returns a programmer with no attached nodes.
func NewMemoryProgrammer(clk clock.Clock, pageDelay time.Duration, logger *zap.Logger) *MemoryProgrammer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryProgrammer{
		clock:     clk,
		pageDelay: pageDelay,
		logger:    logger,
		memories:  make(map[uint8]map[MemoryType][]byte),
	}
}

// Attach makes node answer boot requests. Its memories start erased.
func (p *MemoryProgrammer) Attach(node uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.memories[node]; ok {
		return
	}
	p.memories[node] = map[MemoryType][]byte{
		Flash:  erased(MaxFlashSize),
		EEPROM: erased(MaxEEPROMSize),
	}
}

// OnContact registers fn to be called whenever a node answers.
func (p *MemoryProgrammer) OnContact(fn ContactFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onContact = fn
}

// Read returns the first length bytes of a node memory. length must be a
// whole number of pages.
func (p *MemoryProgrammer) Read(ctx context.Context, node uint8, mem MemoryType, length uint32, progress ProgressFunc) (*intelhex.Image, error) {
	if length > mem.MaxSize() {
		return nil, fmt.Errorf("read %d bytes of %s: %w", length, mem, ErrSizeExceeded)
	}
	if length%PageSize != 0 {
		return nil, fmt.Errorf("read %d bytes of %s: %w", length, mem, ErrUnaligned)
	}
	if err := p.boot(node, mem); err != nil {
		return nil, err
	}

	img := &intelhex.Image{}
	pages := length / PageSize
	for i := uint32(0); i < pages; i++ {
		if err := p.pace(ctx); err != nil {
			return nil, err
		}
		address := i * PageSize
		page := make([]byte, PageSize)
		p.mu.Lock()
		copy(page, p.memories[node][mem][address:address+PageSize])
		p.mu.Unlock()
		img.Add(address, page)
		report(progress, (address+PageSize)*100/length)
	}
	p.logger.Debug("read memory",
		zap.Uint8("node", node),
		zap.Stringer("memory", mem),
		zap.Int("bytes", img.Size()),
	)
	return img, nil
}

// Write programs every block of img into a node memory.
func (p *MemoryProgrammer) Write(ctx context.Context, node uint8, mem MemoryType, img *intelhex.Image, progress ProgressFunc) error {
	for _, block := range img.Blocks {
		if !mem.Fits(block) {
			return fmt.Errorf("block at 0x%x ends past %s limit 0x%x: %w", block.Address, mem, mem.MaxSize(), ErrSizeExceeded)
		}
	}
	if err := p.boot(node, mem); err != nil {
		return err
	}

	total := uint32(img.Size())
	var written uint32
	for _, block := range img.Blocks {
		size := uint32(len(block.Data))
		for offset := uint32(0); offset < size; offset += PageSize {
			if err := p.pace(ctx); err != nil {
				return err
			}
			end := offset + PageSize
			if end > size {
				end = size
			}
			p.mu.Lock()
			copy(p.memories[node][mem][block.Address+offset:], block.Data[offset:end])
			p.mu.Unlock()
			written += end - offset
			report(progress, written*100/total)
		}
	}
	p.logger.Debug("wrote memory",
		zap.Uint8("node", node),
		zap.Stringer("memory", mem),
		zap.Uint32("bytes", total),
	)
	return nil
}

// Ping checks that node answers on the bus.
func (p *MemoryProgrammer) Ping(ctx context.Context, node uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.answer(node); err != nil {
		return fmt.Errorf("node %d could not be pinged: %w", node, err)
	}
	return nil
}

// Reboot restarts node. Its memories survive the reboot.
func (p *MemoryProgrammer) Reboot(ctx context.Context, node uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.answer(node); err != nil {
		return fmt.Errorf("node %d could not be rebooted: %w", node, err)
	}
	return nil
}

func (p *MemoryProgrammer) boot(node uint8, mem MemoryType) error {
	if mem.MaxSize() == 0 {
		return fmt.Errorf("node %d: %w", node, ErrUnknownMemory)
	}
	if err := p.answer(node); err != nil {
		return fmt.Errorf("node %d: %w", node, err)
	}
	return nil
}

// answer reports whether node is attached and records the contact.
func (p *MemoryProgrammer) answer(node uint8) error {
	p.mu.Lock()
	_, ok := p.memories[node]
	p.mu.Unlock()
	if !ok {
		return ErrNoAck
	}
	p.touch(node)
	return nil
}

func (p *MemoryProgrammer) touch(node uint8) {
	p.mu.Lock()
	fn := p.onContact
	p.mu.Unlock()
	if fn != nil {
		fn(node, p.clock.Now())
	}
}

func (p *MemoryProgrammer) pace(ctx context.Context) error {
	if p.pageDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(p.pageDelay):
		return nil
	}
}

func report(progress ProgressFunc, pct uint32) {
	if progress != nil {
		progress(uint(pct))
	}
}

func erased(n uint32) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}
