package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

const ledgerFileMode = 0o644

// FileRepository stores the ledger as newline-delimited canonical JSON, one
// atomic per line, with line number equal to cursor. The whole file is read
// into an index at open; appends write one line and fsync before returning.
type FileRepository struct {
	mu     sync.RWMutex
	path   string
	file   *os.File
	size   int64
	sync   bool
	ix     *index
	logger *zap.Logger
}

// OpenFileRepository opens or creates the ledger file at path. When
// syncWrites is false, appends skip fsync and are durable only once the OS
// flushes them. An unreadable record fails the open with
// *ledgererr.LedgerCorruptedError.
func OpenFileRepository(path string, syncWrites bool, logger *zap.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &ledgererr.RepositoryError{Op: "open", Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, ledgerFileMode)
	if err != nil {
		return nil, &ledgererr.RepositoryError{Op: "open", Err: err}
	}

	r := &FileRepository{path: path, file: f, sync: syncWrites, ix: newIndex(), logger: logger}
	if err := r.load(); err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	logger.Info("file ledger opened", zap.String("path", path), zap.Int("atomics", r.ix.len()))
	return r, nil
}

func (r *FileRepository) load() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return &ledgererr.RepositoryError{Op: "load", Err: err}
	}
	reader := bufio.NewReader(r.file)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			pos := Cursor(r.ix.len()).String()
			if line[len(line)-1] != '\n' {
				return &ledgererr.LedgerCorruptedError{Position: pos, Reason: "truncated record"}
			}
			if err := r.loadLine(pos, bytes.TrimSuffix(line, []byte("\n"))); err != nil {
				return err
			}
			r.size += int64(len(line))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ledgererr.RepositoryError{Op: "load", Err: err}
		}
	}
}

func (r *FileRepository) loadLine(pos string, line []byte) error {
	a, err := atomic.Parse(line)
	if err != nil {
		return &ledgererr.LedgerCorruptedError{Position: pos, Reason: "unreadable record", Err: err}
	}
	if a.CurrHash == "" {
		return &ledgererr.LedgerCorruptedError{Position: pos, Reason: "record has no hash"}
	}
	if r.ix.has(a.CurrHash) {
		return &ledgererr.LedgerCorruptedError{
			Position: pos,
			Reason:   "duplicate record",
			Err:      &ledgererr.DuplicateAtomicError{Hash: a.CurrHash},
		}
	}
	r.ix.add(a)
	return nil
}

// Path returns the ledger file path.
func (r *FileRepository) Path() string { return r.path }

// Append implements Repository. A failed write is rolled back by truncating
// the file to its previous length.
func (r *FileRepository) Append(_ context.Context, a *atomic.Atomic) (Cursor, error) {
	if err := requireHash(a); err != nil {
		return 0, err
	}
	stored := a.Clone()
	line, err := stored.MarshalJSON()
	if err != nil {
		return 0, ledgererr.Repository("encode", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ix.has(stored.CurrHash) {
		return 0, &ledgererr.DuplicateAtomicError{Hash: stored.CurrHash}
	}
	if _, err := r.file.Write(line); err != nil {
		r.rollback()
		return 0, &ledgererr.RepositoryError{Op: "write", Err: err}
	}
	if r.sync {
		if err := r.file.Sync(); err != nil {
			r.rollback()
			return 0, &ledgererr.RepositoryError{Op: "sync", Err: err}
		}
	}
	r.size += int64(len(line))
	c := r.ix.add(stored)

	r.logger.Debug("atomic appended",
		zap.Uint64("cursor", uint64(c)),
		zap.String("hash", stored.CurrHash),
	)
	return c, nil
}

func (r *FileRepository) rollback() {
	if err := r.file.Truncate(r.size); err != nil {
		r.logger.Error("file ledger rollback failed", zap.String("path", r.path), zap.Error(err))
	}
}

// FindByHash implements Repository.
func (r *FileRepository) FindByHash(_ context.Context, hash string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.find(hash)
}

// FindByTraceID implements Repository.
func (r *FileRepository) FindByTraceID(_ context.Context, traceID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.trace(traceID), nil
}

// Scan implements Repository.
func (r *FileRepository) Scan(_ context.Context, opts ScanOptions) (*Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.scan(opts)
}

// Query implements Repository.
func (r *FileRepository) Query(_ context.Context, opts QueryOptions) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.query(opts), nil
}

// Exists implements Repository.
func (r *FileRepository) Exists(_ context.Context, hash string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.has(hash), nil
}

// Stats implements Repository.
func (r *FileRepository) Stats(_ context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.stats(), nil
}

// Close implements Repository.
func (r *FileRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", r.path, err)
	}
	return nil
}
