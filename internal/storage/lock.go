package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Holder is the record the lock owner writes into the lock file so other
// processes can see what is in flight.
type Holder struct {
	PID       int       `json:"pid"`
	Operation string    `json:"operation"`
	Provider  string    `json:"provider,omitempty"`
	ModelID   string    `json:"model_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Staging   string    `json:"staging,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is the single advisory flock(2) that serializes every mutating
// operation on the base path. The kernel drops it when the holder exits.
type Lock struct {
	path    string
	timeout time.Duration
}

// NewLock returns a lock on path. TryAcquire gives up after timeout.
func NewLock(path string, timeout time.Duration) *Lock {
	return &Lock{path: path, timeout: timeout}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Held is an acquired lock. Release must be called exactly once; further
// calls are no-ops.
type Held struct {
	file   *os.File
	mu     sync.Mutex
	holder Holder
	once   sync.Once
}

// TryAcquire takes the lock without blocking, retrying with backoff until
// the timeout expires. It returns a *LockBusyError if another open file
// description still holds it.
func (l *Lock) TryAcquire(ctx context.Context, h Holder) (*Held, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}

	deadline := time.Now().Add(l.timeout)
	sleep := 10 * time.Millisecond
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", l.path, err)
		}
		if !time.Now().Before(deadline) {
			holder, _ := readHolder(file)
			file.Close()
			return nil, &LockBusyError{Path: l.path, Holder: holder}
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		if sleep < 100*time.Millisecond {
			sleep *= 2
		}
	}

	if h.PID == 0 {
		h.PID = os.Getpid()
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now().UTC()
	}
	held := &Held{file: file, holder: h}
	if err := held.write(); err != nil {
		held.Release()
		return nil, err
	}
	return held, nil
}

// Holder reports whether the lock is currently held by any open file
// description, and the record its holder wrote. It never takes the lock
// exclusively.
func (l *Lock) Holder() (*Holder, bool, error) {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}
	defer file.Close()

	err = unix.Flock(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if err == nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		return nil, false, nil
	}
	if !errors.Is(err, unix.EWOULDBLOCK) {
		return nil, false, fmt.Errorf("failed to test lock %s: %w", l.path, err)
	}

	holder, err := readHolder(file)
	if err != nil {
		return nil, true, nil
	}
	return holder, true, nil
}

// Holder returns a copy of the current record.
func (h *Held) Holder() Holder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holder
}

// Update changes the record and rewrites it in place.
func (h *Held) Update(fn func(*Holder)) error {
	h.mu.Lock()
	fn(&h.holder)
	h.mu.Unlock()
	return h.write()
}

// Release clears the record and drops the lock.
func (h *Held) Release() error {
	var err error
	h.once.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Truncate before unlocking so the next holder never sees our record.
		h.file.Truncate(0)
		if uerr := unix.Flock(int(h.file.Fd()), unix.LOCK_UN); uerr != nil {
			err = fmt.Errorf("failed to unlock %s: %w", h.file.Name(), uerr)
		}
		if cerr := h.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (h *Held) write() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(h.holder)
	if err != nil {
		return fmt.Errorf("failed to encode lock record: %w", err)
	}
	data = append(data, '\n')
	if err := h.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := h.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("failed to write lock record: %w", err)
	}
	return nil
}

func readHolder(file *os.File) (*Holder, error) {
	data, err := io.ReadAll(io.NewSectionReader(file, 0, 64*1024))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty lock record")
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode lock record: %w", err)
	}
	return &h, nil
}
