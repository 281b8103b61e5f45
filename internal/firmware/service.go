package firmware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
	"github.com/omzlo/nocan-node-manager/internal/jobs"
	"github.com/omzlo/nocan-node-manager/internal/metrics"
)

// Result names recorded on completed jobs.
const (
	DownloadFilename = "firmware.hex"
	UploadFilename   = "upload.txt"
	UploadResult     = "Uploaded"
)

var (
	// ErrBusy is returned while another transfer is running.
	ErrBusy = errors.New("firmware upload or download already in progress")
	// ErrSizeExceeded is returned for transfers larger than the memory.
	ErrSizeExceeded = errors.New("size exceeds memory limit")
	// ErrReservedNode is returned for node 0, whose firmware cannot be accessed.
	ErrReservedNode = errors.New("node 0 firmware cannot be accessed")
)

// Service admits one firmware transfer at a time and runs it as a job.
type Service struct {
	ctx        context.Context
	programmer Programmer
	jobs       *jobs.Registry
	logger     *zap.Logger

	inProgress atomic.Bool
}

// NewService returns a Service whose jobs live until ctx is canceled.
func NewService(ctx context.Context, programmer Programmer, registry *jobs.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ctx:        ctx,
		programmer: programmer,
		jobs:       registry,
		logger:     logger,
	}
}

// Busy reports whether a transfer is running.
func (s *Service) Busy() bool {
	return s.inProgress.Load()
}

// StartDownload reads size bytes of a node memory in the background. A zero
// size reads the whole memory. The job result is the memory as Intel HEX.
func (s *Service) StartDownload(node uint8, mem MemoryType, size uint32) (*jobs.Job, error) {
	if node == 0 {
		return nil, ErrReservedNode
	}
	if size == 0 {
		size = mem.MaxSize()
	}
	if size > mem.MaxSize() {
		return nil, fmt.Errorf("%s size cannot exceed %d bytes: %w", mem, mem.MaxSize(), ErrSizeExceeded)
	}
	if size%PageSize != 0 {
		return nil, fmt.Errorf("%s size %d is not a multiple of %d: %w", mem, size, PageSize, ErrUnaligned)
	}
	if !s.inProgress.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	name := fmt.Sprintf("download %s node %d", mem, node)
	return s.run(name, "download", func(ctx context.Context, job *jobs.Job) ([]byte, string, error) {
		img, err := s.programmer.Read(ctx, node, mem, size, job.UpdateProgress)
		if err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		if err := intelhex.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), DownloadFilename, nil
	}), nil
}

// StartUpload writes img into a node memory in the background.
func (s *Service) StartUpload(node uint8, mem MemoryType, img *intelhex.Image) (*jobs.Job, error) {
	if node == 0 {
		return nil, ErrReservedNode
	}
	for _, block := range img.Blocks {
		if !mem.Fits(block) {
			return nil, fmt.Errorf("%s size cannot exceed %d bytes: %w", mem, mem.MaxSize(), ErrSizeExceeded)
		}
	}
	if !s.inProgress.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	name := fmt.Sprintf("upload %s node %d", mem, node)
	return s.run(name, "upload", func(ctx context.Context, job *jobs.Job) ([]byte, string, error) {
		if err := s.programmer.Write(ctx, node, mem, img, job.UpdateProgress); err != nil {
			return nil, "", err
		}
		return []byte(UploadResult), UploadFilename, nil
	}), nil
}

// Ping checks that node answers on the bus.
func (s *Service) Ping(ctx context.Context, node uint8) error {
	return s.programmer.Ping(ctx, node)
}

// Reboot restarts node. It is refused with ErrBusy while a transfer is
// running.
func (s *Service) Reboot(ctx context.Context, node uint8) error {
	if s.inProgress.Load() {
		return ErrBusy
	}
	if err := s.programmer.Reboot(ctx, node); err != nil {
		return err
	}
	s.logger.Info("node rebooted", zap.Uint8("node", node))
	return nil
}

// run releases the transfer slot before the job's final status becomes
// visible, so a client that saw "done" can start the next transfer.
func (s *Service) run(name, op string, work func(context.Context, *jobs.Job) ([]byte, string, error)) *jobs.Job {
	return s.jobs.Create(s.ctx, name, func(ctx context.Context, job *jobs.Job) {
		result, filename, err := transfer(ctx, job, work)
		s.inProgress.Store(false)
		if err != nil {
			s.logger.Error("firmware transfer failed",
				zap.Uint("job_id", job.ID()),
				zap.String("operation", op),
				zap.Error(err),
			)
			job.Fail(err)
			metrics.ObserveFirmwareJob(op, "failed")
			return
		}
		job.Complete(result, filename)
		metrics.ObserveFirmwareJob(op, "completed")
		s.logger.Info("firmware transfer completed",
			zap.Uint("job_id", job.ID()),
			zap.String("operation", op),
		)
	})
}

// transfer calls work, turning a panic into an error so the transfer slot is
// always released.
func transfer(ctx context.Context, job *jobs.Job, work func(context.Context, *jobs.Job) ([]byte, string, error)) (result []byte, filename string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transfer panicked: %v", p)
		}
	}()
	return work(ctx, job)
}
