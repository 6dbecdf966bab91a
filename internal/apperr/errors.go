// Package apperr holds the error taxonomy of the vault engine.
//
// It re-exports github.com/cockroachdb/errors so callers wrap, hint and
// inspect errors through one import:
//
//	if errors.Is(err, apperr.ErrStorageConflict) { ... }
//	return apperr.WithHint(apperr.Wrap(err, "extract"), raw)
package apperr

import (
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	Mark         = crdb.Mark
	Is           = crdb.Is
	As           = crdb.As
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

var (
	ErrNotFound      = New("not found")
	ErrAlreadyExists = New("already exists")

	// ErrClassification means the language capability could not classify
	// an utterance.
	ErrClassification = New("classification failed")

	// ErrExtraction means no usable fact could be extracted. The raw
	// utterance is attached as a hint.
	ErrExtraction = New("extraction failed")

	// ErrResolutionAmbiguity means a name matched more than one entity.
	// The concrete error is *AmbiguityError.
	ErrResolutionAmbiguity = New("entity name is ambiguous")

	// ErrStorageConflict means the write retry budget was exhausted.
	ErrStorageConflict = New("storage conflict")

	// ErrVaultIO wraps failures of the underlying vault file system.
	ErrVaultIO = New("vault i/o failure")

	// ErrTransient marks capability failures worth retrying.
	ErrTransient = New("transient failure")
)

// Extraction returns an ErrExtraction carrying the raw utterance.
func Extraction(raw string, cause error) error {
	var err error
	if cause != nil {
		err = Mark(Wrap(cause, "extract facts"), ErrExtraction)
	} else {
		err = ErrExtraction
	}
	return WithHint(err, raw)
}

// RawText returns the raw utterance preserved on an extraction error.
func RawText(err error) string {
	hints := GetAllHints(err)
	if len(hints) == 0 {
		return ""
	}
	return hints[len(hints)-1]
}

// VaultIO marks err as a vault i/o failure.
func VaultIO(err error, op string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, op), ErrVaultIO)
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTransient)
}

// Candidate names one possible resolution in a disambiguation request.
type Candidate struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// AmbiguityError is the disambiguation request returned when a name
// matches several entities. It is never resolved silently.
type AmbiguityError struct {
	Name       string
	Candidates []Candidate
}

func (e *AmbiguityError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Name
	}
	return fmt.Sprintf("%q could refer to: %s", e.Name, strings.Join(names, ", "))
}

// Unwrap lets errors.Is(err, ErrResolutionAmbiguity) match.
func (e *AmbiguityError) Unwrap() error {
	return ErrResolutionAmbiguity
}
