package nvstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store opens namespaces of a keyed byte-blob store. A handle is intended to
// live for a single load or save transaction and must be closed on every
// exit path.
type Store interface {
	Open(namespace string, readOnly bool) (Handle, error)
}

// Handle is an open namespace.
type Handle interface {
	// Length returns the stored size of key, or false if the key is absent.
	Length(key string) (int, bool)
	Read(key string, buf []byte) (int, error)
	Write(key string, data []byte) (int, error)
	// EraseAll removes every key in the namespace.
	EraseAll() error
	Close() error
}

// FileStore is a Store backed by the filesystem: a directory per namespace
// under Dir, a file per key.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) Open(namespace string, readOnly bool) (Handle, error) {
	if namespace == "" {
		return nil, errors.New("empty namespace")
	}
	dir := filepath.Join(s.Dir, namespace)
	if readOnly {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return &fileHandle{dir: dir, readOnly: readOnly}, nil
}

type fileHandle struct {
	dir      string
	readOnly bool
}

func (h *fileHandle) Length(key string) (int, bool) {
	info, err := os.Stat(filepath.Join(h.dir, key))
	if err != nil {
		return 0, false
	}
	return int(info.Size()), true
}

func (h *fileHandle) Read(key string, buf []byte) (int, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, key))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

func (h *fileHandle) Write(key string, data []byte) (int, error) {
	if h.readOnly {
		return 0, errors.New("namespace opened read-only")
	}
	// Write to a temp file and rename so a power cut mid-write can not
	// leave a truncated record behind.
	path := filepath.Join(h.dir, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return len(data), nil
}

func (h *fileHandle) EraseAll() error {
	if h.readOnly {
		return errors.New("namespace opened read-only")
	}
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(h.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (h *fileHandle) Close() error {
	return nil
}
