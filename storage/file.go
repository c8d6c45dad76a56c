package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"

	"github.com/minus-twelve/ledgerauth/types"
)

// FileStore keeps the whole session map in a single JSON file.
//
// Writers build the next version in a temporary file next to the live one,
// hold an exclusive flock on it while writing, fsync, and rename it over the
// live path. Readers take a shared flock on the live file. A reader can
// therefore never observe a half-written snapshot. Two processes writing the
// same path resolve as last-writer-wins.
type FileStore struct {
	path   string
	logger *slog.Logger

	// beforeReplace runs after the temp file is written and before it is
	// renamed into place.
	beforeReplace func() error
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("storage: file backend requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrStorageIO, err)
	}

	o := applyOptions(opts)
	return &FileStore{
		path:   path,
		logger: o.logger,
	}, nil
}

// Path returns the live snapshot path.
func (b *FileStore) Path() string {
	return b.path
}

func (b *FileStore) Load(_ context.Context) (map[string]types.SessionRecord, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]types.SessionRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageIO, b.path, err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("%w: shared lock %s: %v", ErrStorageIO, b.path, err)
	}
	defer unix.Flock(fd, unix.LOCK_UN) //nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageIO, b.path, err)
	}

	return decodeSnapshot(data, b.logger)
}

func (b *FileStore) Save(_ context.Context, sessions map[string]types.SessionRecord) error {
	data, err := encodeSnapshot(sessions)
	if err != nil {
		return err
	}

	pf, err := renameio.NewPendingFile(b.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrStorageIO, err)
	}
	defer pf.Cleanup() //nolint:errcheck

	// The lock is released when CloseAtomicallyReplace closes the descriptor.
	if err := unix.Flock(int(pf.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("%w: exclusive lock: %v", ErrStorageIO, err)
	}
	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("%w: write temp file: %v", ErrStorageIO, err)
	}
	if b.beforeReplace != nil {
		if err := b.beforeReplace(); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrStorageIO, b.path, err)
	}
	return nil
}

func (b *FileStore) Close() error {
	return nil
}
