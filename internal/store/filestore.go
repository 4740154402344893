// Flat-file LicenseStore.
//
// Layout under the configured directory (matches the original deployment so
// existing data keeps working):
//
//	licenses.json            aggregate JSON array of all records
//	licenses/<KEY>.json      one shard per key for O(1) validation lookups
//	validation_log.json      bounded validation attempt log
//	webhook-events/<ID>.json processed webhook event markers
//
// All mutations hold a process-local mutex plus a scoped exclusive flock
// spanning the full read-modify-write cycle, so the duplicate-transaction
// check and the append are observed atomically by concurrent webhook
// deliveries (in this process and in others). Readers do not lock; a torn or
// corrupt aggregate read is treated as an empty collection with a logged
// warning, never a crash.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/cliperton/cliperton-backend/internal/domain"
)

// lockRetryDelay is the poll interval while waiting on the file lock.
const lockRetryDelay = 25 * time.Millisecond

// unsafeFilenameRE strips anything outside the characters we allow in shard
// and event marker filenames.
var unsafeFilenameRE = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore implements LicenseStore and AttemptLog on top of flat JSON files.
// It is safe for concurrent use across goroutines and across processes. The
// mutexes order goroutines sharing this instance; the file locks only exclude
// other processes (flock grants a second TryLock on an already-held instance,
// so it cannot serialize in-process writers on its own).
type FileStore struct {
	dir     string
	mu      sync.Mutex
	logMu   sync.Mutex
	lock    *flock.Flock
	logLock *flock.Flock
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:     dir,
		lock:    flock.New(filepath.Join(dir, ".licenses.lock")),
		logLock: flock.New(filepath.Join(dir, ".validation_log.lock")),
	}
}

func (s *FileStore) aggregatePath() string { return filepath.Join(s.dir, "licenses.json") }
func (s *FileStore) shardDir() string      { return filepath.Join(s.dir, "licenses") }
func (s *FileStore) attemptLogPath() string {
	return filepath.Join(s.dir, "validation_log.json")
}
func (s *FileStore) eventDir() string { return filepath.Join(s.dir, "webhook-events") }

func (s *FileStore) shardPath(key string) string {
	return filepath.Join(s.shardDir(), unsafeFilenameRE.ReplaceAllString(key, "_")+".json")
}

// Append persists rec, refusing a second record for the same transaction id.
func (s *FileStore) Append(ctx context.Context, rec domain.License) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	unlock, err := s.acquire(ctx, &s.mu, s.lock)
	if err != nil {
		return err
	}
	defer unlock()

	all := s.readAggregate()
	for _, existing := range all {
		if existing.TransactionID == rec.TransactionID {
			return ErrDuplicateTransaction
		}
	}
	all = append(all, rec)

	if err := s.writeAggregate(all); err != nil {
		return err
	}
	return s.writeShard(rec)
}

// FindByKey checks the per-key shard first and falls back to scanning the
// aggregate file when the shard is missing or unreadable.
func (s *FileStore) FindByKey(_ context.Context, key string) (*domain.License, error) {
	if raw, err := os.ReadFile(s.shardPath(key)); err == nil {
		var rec domain.License
		if jerr := json.Unmarshal(raw, &rec); jerr == nil && rec.LicenseKey == key {
			return &rec, nil
		}
		log.Warn().Str("license_key", key).Msg("unreadable license shard, falling back to aggregate scan")
	}
	for _, rec := range s.readAggregate() {
		if rec.LicenseKey == key {
			r := rec
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// FindByTransactionID scans the aggregate file for a matching record.
func (s *FileStore) FindByTransactionID(_ context.Context, id string) (*domain.License, error) {
	for _, rec := range s.readAggregate() {
		if rec.TransactionID == id {
			r := rec
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// Revoke marks the license inactive, rewriting both the aggregate file and
// the per-key shard under the exclusive lock.
func (s *FileStore) Revoke(ctx context.Context, key string) error {
	unlock, err := s.acquire(ctx, &s.mu, s.lock)
	if err != nil {
		return err
	}
	defer unlock()

	all := s.readAggregate()
	for i := range all {
		if all[i].LicenseKey != key {
			continue
		}
		if all[i].Status == domain.StatusRevoked {
			return nil
		}
		all[i].Status = domain.StatusRevoked
		if err := s.writeAggregate(all); err != nil {
			return err
		}
		return s.writeShard(all[i])
	}
	return ErrNotFound
}

// Initialized reports whether the aggregate file has ever been written.
func (s *FileStore) Initialized(context.Context) (bool, error) {
	_, err := os.Stat(s.aggregatePath())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// MarkEventProcessed drops a marker file named after the event id.
func (s *FileStore) MarkEventProcessed(_ context.Context, id, eventType string) error {
	if err := os.MkdirAll(s.eventDir(), 0o755); err != nil {
		return fmt.Errorf("create event dir: %w", err)
	}
	marker := domain.WebhookEvent{ID: id, Type: eventType, ProcessedAt: time.Now().UTC()}
	raw, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.eventPath(id), raw)
}

// EventProcessed reports whether a marker exists for the event id.
func (s *FileStore) EventProcessed(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(s.eventPath(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) eventPath(id string) string {
	return filepath.Join(s.eventDir(), unsafeFilenameRE.ReplaceAllString(id, "_")+".json")
}

// Record appends a validation attempt, trimming the log to the most recent
// 1000 entries. Uses its own lock so validation traffic never contends with
// license writes.
func (s *FileStore) Record(ctx context.Context, a domain.ValidationAttempt) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	unlock, err := s.acquire(ctx, &s.logMu, s.logLock)
	if err != nil {
		return err
	}
	defer unlock()

	attempts := s.readAttempts()
	attempts = append(attempts, a)
	if len(attempts) > maxValidationAttempts {
		attempts = attempts[len(attempts)-maxValidationAttempts:]
	}
	raw, err := json.MarshalIndent(attempts, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.attemptLogPath(), raw)
}

// Recent returns a page of attempts, newest first.
func (s *FileStore) Recent(_ context.Context, offset, limit int) ([]domain.ValidationAttempt, int, error) {
	attempts := s.readAttempts()
	total := len(attempts)

	// Stored oldest-first; present newest-first.
	out := make([]domain.ValidationAttempt, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, attempts[i])
	}
	return out, total, nil
}

// acquire serializes in-process writers with mu, then takes the file lock
// (honoring ctx cancellation) for cross-process exclusion, and returns the
// release function. Release on every exit path is the caller's job (defer).
func (s *FileStore) acquire(ctx context.Context, mu *sync.Mutex, fl *flock.Flock) (func(), error) {
	mu.Lock()
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		mu.Unlock()
		return nil, fmt.Errorf("acquire store lock: not acquired")
	}
	return func() {
		if uerr := fl.Unlock(); uerr != nil {
			log.Error().Err(uerr).Msg("release store lock")
		}
		mu.Unlock()
	}, nil
}

// readAggregate loads all records. A missing file yields an empty slice; a
// corrupt file yields an empty slice with a logged warning.
func (s *FileStore) readAggregate() []domain.License {
	raw, err := os.ReadFile(s.aggregatePath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.aggregatePath()).Msg("read license aggregate")
		}
		return nil
	}
	var all []domain.License
	if err := json.Unmarshal(raw, &all); err != nil {
		log.Warn().Err(err).Str("path", s.aggregatePath()).Msg("corrupt license aggregate, treating as empty")
		return nil
	}
	return all
}

func (s *FileStore) writeAggregate(all []domain.License) error {
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.aggregatePath(), raw)
}

func (s *FileStore) writeShard(rec domain.License) error {
	if err := os.MkdirAll(s.shardDir(), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.shardPath(rec.LicenseKey), raw)
}

func (s *FileStore) readAttempts() []domain.ValidationAttempt {
	raw, err := os.ReadFile(s.attemptLogPath())
	if err != nil {
		return nil
	}
	var attempts []domain.ValidationAttempt
	if err := json.Unmarshal(raw, &attempts); err != nil {
		log.Warn().Err(err).Str("path", s.attemptLogPath()).Msg("corrupt validation log, treating as empty")
		return nil
	}
	return attempts
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a partially written JSON document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
