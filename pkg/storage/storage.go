// Package storage defines the string-keyed persistence the auth client uses
// for token sets and transient flow artifacts, along with in-memory and
// file-backed implementations. A SQLite-backed adapter lives in the sqlite
// subpackage.
package storage

import "errors"

// ErrNotFound reports a key with no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Adapter is the persistence contract consumed by the auth client. Values
// are opaque strings; callers own serialization. Implementations must be
// safe for concurrent use.
type Adapter interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}
