package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/engine"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

// Source is the part of the engine the archiver reads from.
type Source interface {
	DlqChangesSince(seen map[string]uint64) []engine.DlqChange
	ListPoisonMessages(ctx context.Context, filter core.PoisonFilter) ([]*core.PoisonMessageRecord, error)
}

// poisonFingerprint identifies a stored version of a poison signature.
type poisonFingerprint struct {
	failures    int
	quarantined bool
	lastSeen    time.Time
}

// Archiver copies changed dead letter entries and poison signatures from the
// engine into a Store. Only entries changed since the last successful write
// are sent.
type Archiver struct {
	mu     sync.Mutex
	source Source
	store  Store
	logger *slog.Logger

	dlqVersions map[string]uint64
	poison      map[string]poisonFingerprint
}

// NewArchiver creates an archiver.
func NewArchiver(source Source, store Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:      source,
		store:       store,
		logger:      logger,
		dlqVersions: make(map[string]uint64),
		poison:      make(map[string]poisonFingerprint),
	}
}

// SyncResult reports what a Sync call wrote.
type SyncResult struct {
	DeadLetters   int
	PoisonPut     int
	PoisonDeleted int
}

// Sync writes changed records. Failed writes are retried on the next call.
func (a *Archiver) Sync(ctx context.Context) (SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		res  SyncResult
		errs []error
	)

	for _, change := range a.source.DlqChangesSince(a.dlqVersions) {
		if err := a.store.PutDeadLetter(ctx, change.Entry); err != nil {
			errs = append(errs, fmt.Errorf("dead letter %s: %w", change.Entry.ID, err))
			continue
		}
		a.dlqVersions[change.Entry.ID] = change.Version
		res.DeadLetters++
		metrics.ArchivedRecords.WithLabelValues("dead_letter").Inc()
	}

	records, err := a.source.ListPoisonMessages(ctx, core.PoisonFilter{})
	if err != nil {
		errs = append(errs, fmt.Errorf("list poison messages: %w", err))
		return res, errors.Join(errs...)
	}

	live := make(map[string]struct{}, len(records))
	for _, rec := range records {
		live[rec.Key] = struct{}{}
		fp := poisonFingerprint{failures: rec.ConsecutiveFailures, quarantined: rec.Quarantined, lastSeen: rec.LastSeenAt}
		if prev, ok := a.poison[rec.Key]; ok && prev == fp {
			continue
		}
		if err := a.store.PutPoisonRecord(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("poison %s: %w", rec.Key, err))
			continue
		}
		a.poison[rec.Key] = fp
		res.PoisonPut++
		metrics.ArchivedRecords.WithLabelValues("poison").Inc()
	}

	for key := range a.poison {
		if _, ok := live[key]; ok {
			continue
		}
		if err := a.store.DeletePoisonRecord(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete poison %s: %w", key, err))
			continue
		}
		delete(a.poison, key)
		res.PoisonDeleted++
	}

	if res != (SyncResult{}) {
		a.logger.Info("archive sync completed",
			"dead_letters", res.DeadLetters,
			"poison_put", res.PoisonPut,
			"poison_deleted", res.PoisonDeleted,
		)
	}
	return res, errors.Join(errs...)
}
