// Package storage defines the deck library file-system abstraction.
package storage

import "time"

// Entry describes one archive in the library.
type Entry struct {
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for library file operations. Names are plain
// file names relative to the library root.
type Provider interface {
	// List returns every archive in the library, ordered by name.
	List() ([]Entry, error)
	// Read returns the raw bytes of the archive called name.
	Read(name string) ([]byte, error)
	// Write atomically writes content under name.
	Write(name string, content []byte) error
	// Delete removes the archive called name.
	Delete(name string) error
	// Accepts reports whether name carries a library extension.
	Accepts(name string) bool
}
