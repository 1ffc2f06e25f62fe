// Package storage defines the content directory file-system abstraction.
package storage

import "time"

// FileInfo describes one artifact file found under the content root.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for content directory file operations.
// Every path is relative to the provider root.
type Provider interface {
	// Root returns the absolute content root.
	Root() string
	// List returns every file under dir whose name ends with ext.
	List(dir, ext string) ([]FileInfo, error)
	// Read returns the raw bytes at path. Missing files wrap os.ErrNotExist.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
}
