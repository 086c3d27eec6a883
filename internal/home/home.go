package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the libretto home directory.
	DefaultDirName = ".libretto"

	// DataDirName is the subdirectory holding the book blob store,
	// matching the config default storage root.
	DataDirName = "books"

	// ExportsDirName is the subdirectory for exported EPUB files.
	ExportsDirName = "exports"

	// WhisperCacheDirName holds whisper models downloaded by the
	// whisperd container so they survive container recreation.
	WhisperCacheDirName = "whisper-cache"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the libretto home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.libretto).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the root of the book blob store.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// ExportsPath returns the directory CLI exports are written to.
func (d *Dir) ExportsPath() string {
	return filepath.Join(d.path, ExportsDirName)
}

// WhisperCachePath returns the host directory mounted into the whisperd
// container as its model cache.
func (d *Dir) WhisperCachePath() string {
	return filepath.Join(d.path, WhisperCacheDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create data directory (this also creates the parent)
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// EnsureWhisperCache creates the whisper model cache directory.
func (d *Dir) EnsureWhisperCache() error {
	return os.MkdirAll(d.WhisperCachePath(), 0o755)
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
