// Package storage defines the vault file-system abstraction.
package storage

import "errors"

// ErrVersionMismatch is returned by CompareAndSwap when the file changed
// since the caller read it.
var ErrVersionMismatch = errors.New("storage: version mismatch")

// Provider is the interface for vault file operations. Paths are relative
// to the vault root and use forward slashes.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]Meta, error)
	// Read returns the file contents and their version token.
	Read(path string) ([]byte, string, error)
	// Exists reports whether path is present.
	Exists(path string) bool
	// CompareAndSwap commits content only if the file is still at expected
	// ("" meaning absent).
	CompareAndSwap(path, expected string, content []byte) error
}
