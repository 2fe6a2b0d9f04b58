package flash

import (
	"os"
)

// FileSector is a Sector backed by a single on-disk file, used by
// cmd/keepkeyfw so a device's storage survives process restarts. It keeps
// the same all-zero erased-state convention as MemorySector.
type FileSector struct {
	path   string
	length int
}

// NewFileSector opens (creating if necessary) a length-byte file at path as
// a Sector.
func NewFileSector(path string, length int) (*FileSector, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != int64(length) {
		if err := f.Truncate(int64(length)); err != nil {
			return nil, err
		}
	}
	return &FileSector{path: path, length: length}, nil
}

// Len implements Sector.
func (fs *FileSector) Len() int { return fs.length }

// Erase implements Sector.
func (fs *FileSector) Erase() error {
	return fs.WriteAt(0, make([]byte, fs.length))
}

// WriteAt implements Sector.
func (fs *FileSector) WriteAt(offset int, data []byte) error {
	f, err := os.OpenFile(fs.path, os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(data, int64(offset))
	return err
}

// ReadAll implements Sector.
func (fs *FileSector) ReadAll() ([]byte, error) {
	return os.ReadFile(fs.path)
}
