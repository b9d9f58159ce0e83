// Package quota implements the quota pool manager: per-owner,
// per-provider, per-variant usage caps across day/month/total windows,
// with atomic commit and automatic window rollover. Usage is
// authoritative in the database (gorm `UPDATE ... SET used_seconds =
// used_seconds + ?`) because commits must be visible across worker
// processes; in-memory counters cannot arbitrate a shared cap.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/internal/database"
)

var ErrExhausted = errors.New("quota exhausted")

// DefaultVariant ordering used when a caller specifies no preference.
var DefaultVariantPreference = []string{"file_fast", "file"}

// Manager implements Query/CheckAvailable/Reserve/Commit/Refresh.
type Manager struct {
	db    *gorm.DB
	nowFn func() time.Time
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db, nowFn: time.Now}
}

// Query returns every window entry for (owner, provider, variant), applying
// rollover first. Per the global-vs-per-user layering, callers
// that want the effective entries should call QueryEffective instead.
func (m *Manager) Query(ctx context.Context, owner, provider, variant string) ([]database.QuotaEntry, error) {
	var entries []database.QuotaEntry
	if err := m.db.WithContext(ctx).
		Where("owner = ? AND provider = ? AND variant = ?", owner, provider, variant).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query quota entries: %w", err)
	}
	for i := range entries {
		if err := m.rollIfNeeded(ctx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// QueryEffective resolves the most-specific-wins layering: a per-user entry
// for a window_type shadows the global entry for that same window_type;
// windows present only at the global level still apply.
func (m *Manager) QueryEffective(ctx context.Context, owner, provider, variant string) ([]database.QuotaEntry, error) {
	perUser, err := m.Query(ctx, owner, provider, variant)
	if err != nil {
		return nil, err
	}
	if owner == database.GlobalOwner {
		return perUser, nil
	}
	global, err := m.Query(ctx, database.GlobalOwner, provider, variant)
	if err != nil {
		return nil, err
	}

	have := make(map[database.QuotaWindowType]bool, len(perUser))
	for _, e := range perUser {
		have[e.WindowType] = true
	}
	out := perUser
	for _, g := range global {
		if !have[g.WindowType] {
			out = append(out, g)
		}
	}
	return out, nil
}

// CheckAvailable is true iff every effective entry for the key is non-
// exhausted and within its current window — all present entries must agree
// (conjunctive), never an OR across windows.
func (m *Manager) CheckAvailable(ctx context.Context, owner, provider, variant string) (bool, error) {
	entries, err := m.QueryEffective(ctx, owner, provider, variant)
	if err != nil {
		return false, err
	}
	now := m.nowFn()
	for _, e := range entries {
		if e.Status == database.QuotaExhausted {
			return false, nil
		}
		if e.WindowType != database.WindowTotal && !(now.Equal(e.WindowStart) || now.After(e.WindowStart)) {
			return false, nil
		}
		if e.WindowType != database.WindowTotal && !now.Before(e.WindowEnd) {
			// stale window not yet rolled — treat conservatively as unavailable
			// until the next access triggers rollover.
			return false, nil
		}
		if e.UsedSeconds >= e.QuotaSeconds {
			return false, nil
		}
	}
	return true, nil
}

// Reserve is a commit-on-success simulation: this implementation performs
// no separate pre-commit bookkeeping and always returns a fresh reservation
// id; callers call Commit with the same id's semantics (idempotency is
// enforced by the caller keying on (task_id, stage_attempt)).
func (m *Manager) Reserve(ctx context.Context, owner, provider, variant string, seconds float64) (string, error) {
	ok, err := m.CheckAvailable(ctx, owner, provider, variant)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrExhausted
	}
	return fmt.Sprintf("%s:%s:%s:%d", owner, provider, variant, m.nowFn().UnixNano()), nil
}

// Commit atomically increments used_seconds on the effective entry set for
// the key — the same per-window_type resolution QueryEffective applies: the
// owner's own entry where one exists for a window_type, else the global
// entry for that window_type. Availability and consumption therefore always
// act on the same caps; a global `total` window keeps accumulating even
// when the owner shadows only `day`. Crossing a cap flips that entry to
// exhausted. Implemented as an atomic SQL UPDATE — no read-modify-write
// race.
func (m *Manager) Commit(ctx context.Context, owner, provider, variant string, seconds float64) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var own []database.QuotaEntry
		if err := tx.Where("owner = ? AND provider = ? AND variant = ?", owner, provider, variant).
			Find(&own).Error; err != nil {
			return err
		}

		effective := own
		if owner != database.GlobalOwner {
			var global []database.QuotaEntry
			if err := tx.Where("owner = ? AND provider = ? AND variant = ?", database.GlobalOwner, provider, variant).
				Find(&global).Error; err != nil {
				return err
			}
			have := make(map[database.QuotaWindowType]bool, len(own))
			for _, e := range own {
				have[e.WindowType] = true
			}
			for _, g := range global {
				if !have[g.WindowType] {
					effective = append(effective, g)
				}
			}
		}

		for _, e := range effective {
			if err := m.rollIfNeededTx(tx, &e); err != nil {
				return err
			}
			if err := tx.Model(&database.QuotaEntry{}).Where("id = ?", e.ID).
				Update("used_seconds", gorm.Expr("used_seconds + ?", seconds)).Error; err != nil {
				return err
			}
			newUsed := e.UsedSeconds + seconds
			if newUsed >= e.QuotaSeconds {
				if err := tx.Model(&database.QuotaEntry{}).Where("id = ?", e.ID).
					Update("status", database.QuotaExhausted).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Refresh creates or updates an entry for (owner, provider, variant,
// window_type). When reset is true, used_seconds is cleared.
func (m *Manager) Refresh(ctx context.Context, owner, provider, variant string, windowType database.QuotaWindowType, quotaSeconds float64, windowStart, windowEnd time.Time, reset bool) (*database.QuotaEntry, error) {
	if windowType != database.WindowTotal && windowStart.IsZero() {
		windowStart, windowEnd = computeWindowBounds(windowType, m.nowFn())
	}

	var entry database.QuotaEntry
	err := m.db.WithContext(ctx).Where("owner = ? AND provider = ? AND variant = ? AND window_type = ?",
		owner, provider, variant, windowType).First(&entry).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = database.QuotaEntry{
			Owner: owner, Provider: provider, Variant: variant, WindowType: windowType,
			WindowStart: windowStart, WindowEnd: windowEnd,
			QuotaSeconds: quotaSeconds, UsedSeconds: 0, Status: database.QuotaActive,
		}
		if err := m.db.WithContext(ctx).Create(&entry).Error; err != nil {
			return nil, fmt.Errorf("create quota entry: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load quota entry: %w", err)
	default:
		entry.QuotaSeconds = quotaSeconds
		entry.WindowStart = windowStart
		entry.WindowEnd = windowEnd
		if reset {
			entry.UsedSeconds = 0
			entry.Status = database.QuotaActive
		}
		if err := m.db.WithContext(ctx).Save(&entry).Error; err != nil {
			return nil, fmt.Errorf("update quota entry: %w", err)
		}
	}
	return &entry, nil
}

// rollIfNeeded advances an entry's window and resets used_seconds to 0 when
// now has passed window_end. `total` windows never roll over.
func (m *Manager) rollIfNeeded(ctx context.Context, e *database.QuotaEntry) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return m.rollIfNeededTx(tx, e)
	})
}

func (m *Manager) rollIfNeededTx(tx *gorm.DB, e *database.QuotaEntry) error {
	if e.WindowType == database.WindowTotal {
		return nil
	}
	now := m.nowFn()
	if now.Before(e.WindowEnd) {
		return nil
	}
	start, end := computeWindowBounds(e.WindowType, now)
	e.WindowStart, e.WindowEnd, e.UsedSeconds, e.Status = start, end, 0, database.QuotaActive
	return tx.Model(&database.QuotaEntry{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
		"window_start": start, "window_end": end, "used_seconds": 0, "status": database.QuotaActive,
	}).Error
}

// computeWindowBounds returns [start, end) for a fresh window containing
// `now`: day -> next 00:00 UTC boundary; month -> first of next month UTC.
func computeWindowBounds(windowType database.QuotaWindowType, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch windowType {
	case database.WindowDay:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	case database.WindowMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		return now, now.AddDate(100, 0, 0)
	}
}

// PreferredVariant returns the selector's default variant preference when
// the caller does not specify one: file_fast, falling back to file.
func PreferredVariant(available func(variant string) bool) string {
	for _, v := range DefaultVariantPreference {
		if available == nil || available(v) {
			return v
		}
	}
	return "file"
}
