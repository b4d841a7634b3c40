package records

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/fhe-autopay/pkg/logger"
	"go.uber.org/multierr"
)

// SkipRecorder counts records a refresh had to drop.
type SkipRecorder interface {
	AddSkippedRecords(n int)
}

type localPreview struct {
	handle string
	amount int64
}

// Store is the in-memory read replica of the ledger's records. Refreshes
// replace the cache wholesale; the last refresh to finish wins.
type Store struct {
	source  Source
	logg    *logger.Logger
	skipped SkipRecorder

	mu      sync.RWMutex
	records []Record
	local   map[string]localPreview
}

// StoreParams groups dependencies for the store.
type StoreParams struct {
	Source  Source
	Logger  *logger.Logger
	Skipped SkipRecorder
}

// NewStore builds an empty store bound to the ledger source.
func NewStore(params StoreParams) (*Store, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("record source required")
	}
	return &Store{
		source:  params.Source,
		logg:    params.Logger,
		skipped: params.Skipped,
		local:   make(map[string]localPreview),
	}, nil
}

// Refresh re-enumerates the ledger and replaces the cache. Records whose
// fetch fails are skipped; failing to enumerate leaves the cache untouched.
func (s *Store) Refresh(ctx context.Context) ([]Record, error) {
	ids, err := s.source.GetAllRecordIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate records: %w", err)
	}

	fresh := make([]Record, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	var skipErr error
	skipped := 0
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		entry, err := s.source.GetRecord(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("refresh interrupted: %w", ctxErr)
			}
			skipped++
			skipErr = multierr.Append(skipErr, fmt.Errorf("record %s: %w", id, err))
			continue
		}
		fresh = append(fresh, FromLedger(entry))
	}

	if skipErr != nil {
		s.logSkipped(ctx, skipped, skipErr)
	}

	s.mu.Lock()
	s.records = fresh
	s.pruneLocalLocked()
	out := s.snapshotLocked()
	s.mu.Unlock()

	return out, nil
}

// Snapshot returns a copy of the cached records in ledger order.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns the cached record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return s.withLocal(rec), true
		}
	}
	return Record{}, false
}

// SetLocalClearAmount attaches a client-side preview to the record with the
// given ciphertext handle. It never touches the ledger-backed fields.
func (s *Store) SetLocalClearAmount(id, handle string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[id] = localPreview{handle: handle, amount: amount}
}

// ClearLocalClearAmount drops the preview for id.
func (s *Store) ClearLocalClearAmount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, id)
}

// pruneLocalLocked drops previews whose record now carries a different
// ciphertext handle. Previews for records not yet visible are kept.
func (s *Store) pruneLocalLocked() {
	for _, rec := range s.records {
		preview, ok := s.local[rec.ID]
		if ok && preview.handle != rec.CiphertextHandle {
			delete(s.local, rec.ID)
		}
	}
}

func (s *Store) snapshotLocked() []Record {
	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[i] = s.withLocal(rec)
	}
	return out
}

func (s *Store) withLocal(rec Record) Record {
	rec.ClearAmount = copyAmount(rec.ClearAmount)
	rec.LocalClearAmount = nil
	if preview, ok := s.local[rec.ID]; ok && preview.handle == rec.CiphertextHandle {
		amount := preview.amount
		rec.LocalClearAmount = &amount
	}
	return rec
}

func (s *Store) logSkipped(ctx context.Context, skipped int, err error) {
	if s.skipped != nil {
		s.skipped.AddSkippedRecords(skipped)
	}
	if s.logg == nil {
		return
	}
	missing := 0
	for _, e := range multierr.Errors(err) {
		if errors.Is(e, ErrNotFound) {
			missing++
		}
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"skipped": skipped,
		"missing": missing,
		"error":   err.Error(),
	})
	s.logg.Warn(ctx, "records.refresh.skipped")
}

func copyAmount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
