package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

// maxErrorPatternLen bounds the error text kept in a poison signature, in runes.
const maxErrorPatternLen = 50

// poisonDetector tracks failure streaks per error signature.
type poisonDetector struct {
	mu        sync.Mutex
	threshold int
	records   map[string]*core.PoisonMessageRecord
}

func newPoisonDetector(threshold int) *poisonDetector {
	return &poisonDetector{
		threshold: threshold,
		records:   make(map[string]*core.PoisonMessageRecord),
	}
}

// errorPattern truncates an error message to the signature length.
func errorPattern(msg string) string {
	r := []rune(msg)
	if len(r) > maxErrorPatternLen {
		r = r[:maxErrorPatternLen]
	}
	return string(r)
}

// poisonKey builds the signature key tenant:policy:pattern.
func poisonKey(tenantID, policyID, pattern string) string {
	return tenantID + ":" + policyID + ":" + pattern
}

// recordFailure extends the streak for the operation's error signature. It
// returns a copy of the record and whether this failure quarantined it.
func (d *poisonDetector) recordFailure(op *core.RetryOperation, msg string, now time.Time) (core.PoisonMessageRecord, bool) {
	pattern := errorPattern(msg)
	key := poisonKey(op.TenantID, op.PolicyID, pattern)

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[key]
	if !ok {
		rec = &core.PoisonMessageRecord{
			Key:          key,
			PolicyID:     op.PolicyID,
			TenantID:     op.TenantID,
			ErrorPattern: pattern,
			FirstSeenAt:  now,
		}
		d.records[key] = rec
	}
	rec.OperationID = op.ID
	rec.ConsecutiveFailures++
	rec.LastSeenAt = now

	quarantined := false
	if !rec.Quarantined && rec.ConsecutiveFailures > d.threshold {
		rec.Quarantined = true
		quarantined = true
	}
	return *rec, quarantined
}

func (d *poisonDetector) list(filter core.PoisonFilter) []*core.PoisonMessageRecord {
	d.mu.Lock()
	out := make([]*core.PoisonMessageRecord, 0, len(d.records))
	for _, rec := range d.records {
		if filter.TenantID != "" && rec.TenantID != filter.TenantID {
			continue
		}
		if filter.QuarantinedOnly && !rec.Quarantined {
			continue
		}
		c := *rec
		out = append(out, &c)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out
}

func (d *poisonDetector) clear(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[key]; !ok {
		return false
	}
	delete(d.records, key)
	return true
}

// expire drops records whose last failure is older than cutoff.
func (d *poisonDetector) expire(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for key, rec := range d.records {
		if rec.LastSeenAt.Before(cutoff) {
			delete(d.records, key)
			n++
		}
	}
	return n
}

func (d *poisonDetector) counts() (total, quarantined int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.records {
		total++
		if rec.Quarantined {
			quarantined++
		}
	}
	return total, quarantined
}

// trackPoison records a failure and announces newly quarantined signatures.
// Called with e.mu held.
func (e *Engine) trackPoison(op *core.RetryOperation, msg string, now time.Time) {
	rec, quarantined := e.poison.recordFailure(op, msg, now)
	if !quarantined {
		return
	}
	metrics.PoisonQuarantined.WithLabelValues(op.OperationType).Inc()
	e.logger.Warn("poison message quarantined",
		"key", rec.Key,
		"operation_id", op.ID,
		"tenant_id", op.TenantID,
		"consecutive_failures", rec.ConsecutiveFailures,
	)
	e.followup(&core.OperationEvent{
		EventType:     core.EventPoisonQuarantined,
		OperationID:   op.ID,
		PolicyID:      op.PolicyID,
		TenantID:      op.TenantID,
		OperationType: op.OperationType,
		Attempt:       op.AttemptNumber,
		Message:       rec.ErrorPattern,
		Timestamp:     core.FormatTime(now),
	})
}

// ListPoisonMessages returns poison records, most recently seen first.
func (e *Engine) ListPoisonMessages(ctx context.Context, filter core.PoisonFilter) ([]*core.PoisonMessageRecord, error) {
	return e.poison.list(filter), nil
}

// ClearPoisonMessage removes a signature so its streak starts over.
func (e *Engine) ClearPoisonMessage(ctx context.Context, key string) error {
	if key == "" {
		return core.NewInvalidRequestError("A poison message key is required.", nil)
	}
	if !e.poison.clear(key) {
		return core.NewNotFoundError("Poison message", key)
	}
	e.logger.Info("poison message cleared", "key", key)
	return nil
}

// ExpirePoisonMessages drops signatures that have not failed within ttl.
func (e *Engine) ExpirePoisonMessages(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, core.NewInvalidRequestError("Poison TTL must be positive.", map[string]any{"ttl": ttl.String()})
	}
	n := e.poison.expire(e.now().Add(-ttl))
	if n > 0 {
		e.logger.Info("expired poison messages", "count", n, "ttl", ttl.String())
	}
	return n, nil
}
