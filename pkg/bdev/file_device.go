package bdev

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// DefaultBlockSize is the conventional logical block size used when none
// is specified.
const DefaultBlockSize = 4096

// FileDevice is a Device backed by a single fixed-size local file: a file
// addressed by block offset, which lets a Volume's Read/Write fan-out be
// exercised end to end against real bytes in tests.
type FileDevice struct {
	name       string
	path       string
	blockSize  uint32
	numBlocks  uint64

	mu          sync.Mutex
	file        *os.File
	claimedBy   string
	removed     bool
	removeFuncs []RemoveFunc
}

// NewFileDevice creates a FileDevice backed by path, sized to hold
// numBlocks blocks of blockSize bytes. The backing file is created (and
// truncated to the right size) lazily on Open.
func NewFileDevice(name, path string, blockSize uint32, numBlocks uint64) *FileDevice {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &FileDevice{
		name:      name,
		path:      path,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}
}

func (d *FileDevice) Name() string { return d.name }

func (d *FileDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		return nil
	}

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("bdev: open %s: %w", d.path, err)
	}

	size := int64(d.blockSize) * int64(d.numBlocks)
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("bdev: size %s to %d bytes: %w", d.path, size, err)
	}

	d.file = f
	return nil
}

func (d *FileDevice) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *FileDevice) Claim(owner string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.claimedBy != "" && d.claimedBy != owner {
		return fmt.Errorf("bdev: %s already claimed by %s", d.name, d.claimedBy)
	}
	d.claimedBy = owner
	return nil
}

func (d *FileDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimedBy = ""
}

func (d *FileDevice) BlockSize() uint32 { return d.blockSize }
func (d *FileDevice) NumBlocks() uint64 { return d.numBlocks }

func (d *FileDevice) boundsCheck(offsetBlocks uint64, numBlocks uint64) error {
	if offsetBlocks+numBlocks > d.numBlocks {
		return fmt.Errorf("bdev: %s: range [%d,%d) exceeds capacity %d blocks",
			d.name, offsetBlocks, offsetBlocks+numBlocks, d.numBlocks)
	}
	return nil
}

func (d *FileDevice) SubmitRead(ctx context.Context, offsetBlocks uint64, buf []byte) error {
	d.mu.Lock()
	f, removed := d.file, d.removed
	d.mu.Unlock()
	if removed {
		return ErrRemoved
	}
	if f == nil {
		return fmt.Errorf("bdev: %s: not open", d.name)
	}

	numBlocks := uint64(len(buf)) / uint64(d.blockSize)
	if err := d.boundsCheck(offsetBlocks, numBlocks); err != nil {
		return err
	}

	_, err := f.ReadAt(buf, int64(offsetBlocks)*int64(d.blockSize))
	return err
}

func (d *FileDevice) SubmitWrite(ctx context.Context, offsetBlocks uint64, buf []byte) error {
	d.mu.Lock()
	f, removed := d.file, d.removed
	d.mu.Unlock()
	if removed {
		return ErrRemoved
	}
	if f == nil {
		return fmt.Errorf("bdev: %s: not open", d.name)
	}

	numBlocks := uint64(len(buf)) / uint64(d.blockSize)
	if err := d.boundsCheck(offsetBlocks, numBlocks); err != nil {
		return err
	}

	_, err := f.WriteAt(buf, int64(offsetBlocks)*int64(d.blockSize))
	return err
}

func (d *FileDevice) SubmitFlush(ctx context.Context) error {
	d.mu.Lock()
	f, removed := d.file, d.removed
	d.mu.Unlock()
	if removed {
		return ErrRemoved
	}
	if f == nil {
		return fmt.Errorf("bdev: %s: not open", d.name)
	}
	return f.Sync()
}

func (d *FileDevice) SubmitUnmap(ctx context.Context, offsetBlocks, numBlocks uint64) error {
	d.mu.Lock()
	f, removed := d.file, d.removed
	d.mu.Unlock()
	if removed {
		return ErrRemoved
	}
	if f == nil {
		return fmt.Errorf("bdev: %s: not open", d.name)
	}
	if err := d.boundsCheck(offsetBlocks, numBlocks); err != nil {
		return err
	}

	zeros := make([]byte, d.blockSize)
	for i := uint64(0); i < numBlocks; i++ {
		if _, err := f.WriteAt(zeros, int64(offsetBlocks+i)*int64(d.blockSize)); err != nil {
			return err
		}
	}
	return nil
}

func (d *FileDevice) SubmitReset(ctx context.Context) error {
	d.mu.Lock()
	removed := d.removed
	d.mu.Unlock()
	if removed {
		return ErrRemoved
	}
	// A local file has no in-flight controller state to reset; treat
	// reset as a no-op success, matching a bdev with no queued I/O.
	return nil
}

func (d *FileDevice) IOTypeSupported(op OpType) bool {
	switch op {
	case OpRead, OpWrite, OpFlush, OpUnmap, OpReset:
		return true
	default:
		return false
	}
}

func (d *FileDevice) OnRemove(fn RemoveFunc) {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		fn()
		return
	}
	d.removeFuncs = append(d.removeFuncs, fn)
	d.mu.Unlock()
}

// SimulateRemove marks the device removed and fires every registered
// RemoveFunc, mimicking the host framework's asynchronous REMOVE event.
// Exposed for tests that exercise BaseReplica's remove handling without a
// real host framework.
func (d *FileDevice) SimulateRemove() {
	d.mu.Lock()
	if d.removed {
		d.mu.Unlock()
		return
	}
	d.removed = true
	fns := d.removeFuncs
	d.removeFuncs = nil
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
