package plagindex

import "github.com/oysyn/plagindex/errs"

// ErrorKind tags the six error categories from the engine's error
// handling design. Callers can match on the sentinel values below with
// errors.Is; ErrorKind itself is exposed for logging/metrics labels.
type ErrorKind = errs.Kind

const (
	KindBadInput       = errs.KindBadInput
	KindCorruptSegment = errs.KindCorruptSegment
	KindMissingSource  = errs.KindMissingSource
	KindConfigMismatch = errs.KindConfigMismatch
	KindTransient      = errs.KindTransient
	KindCancelled      = errs.KindCancelled
)

// The sentinel errors below are the engine's public error surface.
// They live in package errs so that every internal package can return
// them without importing this root package; see errs.go for doc
// comments on each one.
var (
	ErrBadInput         = errs.BadInput
	ErrCorruptSegment   = errs.CorruptSegment
	ErrMissingSource    = errs.MissingSource
	ErrConfigMismatch   = errs.ConfigMismatch
	ErrTransient        = errs.Transient
	ErrCancelled        = errs.Cancelled
	ErrDocumentNotFound = errs.DocumentNotFound
	ErrSegmentNotFound  = errs.SegmentNotFound
	ErrNoResults        = errs.NoResults
	ErrInvalidConfig    = errs.InvalidConfig
	ErrStoreClosed      = errs.StoreClosed
	ErrAlreadyReserved  = errs.AlreadyReserved
)
