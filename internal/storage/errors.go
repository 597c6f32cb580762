package storage

import (
	"errors"
	"fmt"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

// Error kinds. Match them with errors.Is; the struct types below carry the
// details and unwrap to these.
var (
	ErrMountRequired           = errors.New("mount required")
	ErrLockBusy                = errors.New("lock busy")
	ErrInsufficientSpace       = errors.New("insufficient space")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrPreexistingDataConflict = errors.New("preexisting data conflict")
	ErrFilesystemUnavailable   = system.ErrFilesystemUnavailable
	ErrUnknownProvider         = errors.New("unknown provider")
	ErrInvalidRequest          = errors.New("invalid request")

	ErrEmptyPath        = errors.New("empty path")
	ErrTraversalAttempt = errors.New("path traversal attempt")
	ErrOutsideBoundary  = errors.New("path outside base")
	ErrTooLong          = errors.New("path too long")
)

// PathErrorKind classifies a rejected destination.
type PathErrorKind int

const (
	EmptyPath PathErrorKind = iota
	TraversalAttempt
	OutsideBoundary
	TooLong
)

func (k PathErrorKind) String() string {
	switch k {
	case EmptyPath:
		return "EmptyPath"
	case TraversalAttempt:
		return "TraversalAttempt"
	case OutsideBoundary:
		return "OutsideBoundary"
	case TooLong:
		return "TooLong"
	}
	return fmt.Sprintf("PathErrorKind(%d)", int(k))
}

func (k PathErrorKind) sentinel() error {
	switch k {
	case EmptyPath:
		return ErrEmptyPath
	case TraversalAttempt:
		return ErrTraversalAttempt
	case TooLong:
		return ErrTooLong
	}
	return ErrOutsideBoundary
}

// PathError reports a destination rejected by ValidateDestination.
type PathError struct {
	Kind PathErrorKind
	Path string
	Base string
}

func (e *PathError) Error() string {
	switch e.Kind {
	case EmptyPath:
		return "empty path"
	case OutsideBoundary:
		return fmt.Sprintf("%s: %q resolves outside %s", ErrOutsideBoundary, e.Path, e.Base)
	}
	return fmt.Sprintf("%s: %q", e.Kind.sentinel(), truncate(e.Path, 120))
}

func (e *PathError) Unwrap() error { return e.Kind.sentinel() }

// CapacityError reports a request that does not fit with its safety margin.
type CapacityError struct {
	Path      string
	Available uint64
	Required  uint64
	// Reserve is the min_free_space part of Required, zero when the
	// request alone did not fit.
	Reserve uint64
}

func (e *CapacityError) Error() string {
	msg := fmt.Sprintf("%s on %s: available %s, required %s",
		ErrInsufficientSpace, e.Path, common.HumanBytes(e.Available), common.HumanBytes(e.Required))
	if e.Reserve > 0 {
		msg += fmt.Sprintf(" (including %s reserve)", common.HumanBytes(e.Reserve))
	}
	return msg
}

func (e *CapacityError) Unwrap() error { return ErrInsufficientSpace }

// TransferError wraps a failed or cancelled transfer callback. Both
// ErrTransferFailed and the cause match with errors.Is.
type TransferError struct {
	Provider string
	ModelID  string
	Cause    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s for %s %s: %v", ErrTransferFailed, e.Provider, e.ModelID, e.Cause)
}

func (e *TransferError) Unwrap() []error { return []error{ErrTransferFailed, e.Cause} }

// ConflictError reports a path that already holds something else. Setup
// emits it as a non-fatal warning for legacy links; Acquire fails with it
// when the target directory belongs to a different model.
type ConflictError struct {
	Path   string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s at %s: %s; left untouched", ErrPreexistingDataConflict, e.Path, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrPreexistingDataConflict }

// LockBusyError names the process holding the lock, when it is known.
type LockBusyError struct {
	Path   string
	Holder *Holder
}

func (e *LockBusyError) Error() string {
	if e.Holder == nil || e.Holder.PID == 0 {
		return fmt.Sprintf("%s: %s is held by another process", ErrLockBusy, e.Path)
	}
	msg := fmt.Sprintf("%s: %s is held by pid %d (%s", ErrLockBusy, e.Path, e.Holder.PID, e.Holder.Operation)
	if e.Holder.ModelID != "" {
		msg += " " + e.Holder.ModelID
	}
	return msg + ")"
}

func (e *LockBusyError) Unwrap() error { return ErrLockBusy }

func mountRequired(path string) error {
	return fmt.Errorf("%w: %s is not a mount point (set require_mount: false or --no-verify-mount to skip)", ErrMountRequired, path)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
