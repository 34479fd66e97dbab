// Package movement writes and removes movements. Every write is validated
// first, then applied in one transaction that re-checks the invariants the
// validator promised before committing.
package movement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/ledger"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/validate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMovementNotFound is returned for an unknown movement id.
	ErrMovementNotFound = errors.New("movement: not found")
	// ErrInvalid means validation reported blocking errors.
	ErrInvalid = errors.New("movement: proposal is invalid")
	// ErrUnacknowledged means validation reported warnings the caller did
	// not acknowledge.
	ErrUnacknowledged = errors.New("movement: warnings not acknowledged")
	// ErrIntegrity means the write-time guard found a violated invariant,
	// usually because a concurrent write got there first.
	ErrIntegrity = errors.New("movement: integrity check failed")
)

// ValidationError carries the validation result that stopped a write.
type ValidationError struct {
	Result *validate.Result
}

func (e *ValidationError) Error() string {
	if !e.Result.IsValid {
		return fmt.Sprintf("%s: %v", ErrInvalid, e.Result.Err())
	}
	return fmt.Sprintf("%s: %s", ErrUnacknowledged, strings.Join(e.Result.WarningCodes(), ", "))
}

func (e *ValidationError) Unwrap() error {
	if !e.Result.IsValid {
		return ErrInvalid
	}
	return ErrUnacknowledged
}

// Service writes movements.
type Service struct {
	db        *gorm.DB
	validator *validate.Validator
	clock     clock.Clock
	metrics   *metrics.Collector
}

// NewService returns a Service. m may be nil.
func NewService(db *gorm.DB, v *validate.Validator, m *metrics.Collector) *Service {
	return &Service{db: db, validator: v, clock: v.Clock(), metrics: m}
}

// Validator returns the validator used by Create.
func (s *Service) Validator() *validate.Validator { return s.validator }

// Create validates p and writes it. Warnings block the write unless
// acknowledge is set. The validation result is returned whenever validation
// ran, including when it stopped the write.
func (s *Service) Create(ctx context.Context, p validate.Proposal, acknowledge bool) (*models.Movement, *validate.Result, error) {
	log := zerolog.Ctx(ctx)
	res, err := s.validator.Validate(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if !res.IsValid || (len(res.Warnings) > 0 && !acknowledge) {
		return nil, res, &ValidationError{Result: res}
	}

	now := clock.Normalize(s.clock.Now())
	at := clock.Normalize(p.ScheduledAt)
	evKind, err := models.EventKindFor(p.Kind)
	if err != nil {
		return nil, res, err
	}

	m := &models.Movement{
		Kind:          p.Kind,
		ScheduledAt:   at,
		SourceTrackID: p.SourceTrackID,
		DestTrackID:   p.DestTrackID,
		IsPlanned:     at.After(now),
		Note:          p.Note,
	}
	for _, id := range p.WagonIDs {
		m.Wagons = append(m.Wagons, models.MovementWagon{WagonID: id})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTrack(tx, p.DestTrackID); err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("movement: create: %w", err)
		}
		for _, id := range p.WagonIDs {
			mid := m.ID
			ev := models.MovementEvent{
				WagonID:         id,
				OccurredAt:      at,
				Kind:            evKind,
				TrackID:         p.DestTrackID,
				PreviousTrackID: p.SourceTrackID,
				MovementID:      &mid,
			}
			if err := ledger.Append(tx, &ev); err != nil {
				return err
			}
			if err := ledger.RefreshPointer(tx, id, now); err != nil {
				return err
			}
		}

		guard, err := s.guard(ctx, tx, m)
		if err != nil {
			return err
		}
		if !guard.OK() {
			return &IntegrityError{Guard: guard}
		}
		return nil
	})
	if err != nil {
		var ie *IntegrityError
		if errors.As(err, &ie) {
			s.metrics.IncGuardRejection()
			log.Warn().Str("kind", string(p.Kind)).Str("violations", ie.Guard.String()).Msg("movement: write rejected by guard")
		}
		return nil, res, err
	}

	log.Info().
		Uint("movement", m.ID).
		Str("kind", string(m.Kind)).
		Time("scheduled_at", m.ScheduledAt).
		Bool("planned", m.IsPlanned).
		Int("wagons", len(m.Wagons)).
		Msg("movement created")
	return m, res, nil
}

// lockTrack takes a row lock on the destination track so concurrent writers
// to the same track serialize. SQLite already serializes writers.
func lockTrack(tx *gorm.DB, trackID *uint) error {
	if trackID == nil || tx.Dialector.Name() != "mysql" {
		return nil
	}
	var tr models.Track
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&tr, *trackID).Error; err != nil {
		return fmt.Errorf("movement: lock track %d: %w", *trackID, err)
	}
	return nil
}

// Delete reverts the ledger effects of a movement and removes it in one
// transaction. Per-wagon compensation failures are reported in the result and
// never stop the deletion; any other failure rolls the whole deletion back.
func (s *Service) Delete(ctx context.Context, id uint) (*ledger.RevertResult, error) {
	log := zerolog.Ctx(ctx)
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := clock.Normalize(s.clock.Now())
	var res *ledger.RevertResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = ledger.Revert(ctx, tx, m, now)
		if err != nil {
			return err
		}
		if err := tx.Where("movement_id = ?", id).Delete(&models.MovementWagon{}).Error; err != nil {
			return fmt.Errorf("movement: delete wagons of %d: %w", id, err)
		}
		if err := tx.Delete(&models.Movement{}, id).Error; err != nil {
			return fmt.Errorf("movement: delete %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Uint("movement", id).Msg("movement: delete rolled back")
		return nil, err
	}
	for _, o := range res.Outcomes {
		s.metrics.IncRevertOutcome(string(o.Status))
	}

	ev := log.Info()
	if failed := res.Failed(); len(failed) > 0 {
		ev = log.Warn().Int("failed", len(failed))
	}
	ev.Uint("movement", id).Int("wagons", len(res.Outcomes)).Int64("detached", res.Detached).Msg("movement deleted")
	return res, nil
}

// Get returns a movement with its wagons.
func (s *Service) Get(ctx context.Context, id uint) (*models.Movement, error) {
	var m models.Movement
	if err := s.db.WithContext(ctx).Preload("Wagons").First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrMovementNotFound, id)
		}
		return nil, fmt.Errorf("movement: get %d: %w", id, err)
	}
	return &m, nil
}

// ListFilters holds optional filters for listing movements.
type ListFilters struct {
	TrackID uint
	WagonID uint
	Kind    models.MovementKind
	Planned *bool
	From    time.Time
	To      time.Time
}

// List returns movements matching filters in schedule order. Planned is
// judged against the clock, not the stored flag.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]models.Movement, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&models.Movement{}).Preload("Wagons")
	if filters.TrackID != 0 {
		q = q.Where("(source_track_id = ? OR dest_track_id = ?)", filters.TrackID, filters.TrackID)
	}
	if filters.WagonID != 0 {
		q = q.Where("id IN (?)", db.Model(&models.MovementWagon{}).
			Select("movement_id").Where("wagon_id = ?", filters.WagonID))
	}
	if filters.Kind != "" {
		q = q.Where("kind = ?", filters.Kind)
	}
	if filters.Planned != nil {
		now := clock.Normalize(s.clock.Now())
		if *filters.Planned {
			q = q.Where("scheduled_at > ?", now)
		} else {
			q = q.Where("scheduled_at <= ?", now)
		}
	}
	if !filters.From.IsZero() {
		q = q.Where("scheduled_at >= ?", clock.Normalize(filters.From))
	}
	if !filters.To.IsZero() {
		q = q.Where("scheduled_at <= ?", clock.Normalize(filters.To))
	}
	var out []models.Movement
	if err := q.Order("scheduled_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("movement: list: %w", err)
	}
	return out, nil
}

// SweepPlanned clears the planned flag of movements whose time has come and
// refreshes the pointers of the wagons they carry. It returns how many
// movements were flipped. Running it twice in a row flips nothing the second
// time.
func (s *Service) SweepPlanned(ctx context.Context) (int64, error) {
	now := clock.Normalize(s.clock.Now())
	var flipped int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.Movement{}).
			Where("is_planned = ? AND scheduled_at <= ?", true, now).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("movement: sweep: find due: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		result := tx.Model(&models.Movement{}).Where("id IN ?", ids).Update("is_planned", false)
		if result.Error != nil {
			return fmt.Errorf("movement: sweep: flip: %w", result.Error)
		}
		flipped = result.RowsAffected

		var wagonIDs []uint
		if err := tx.Model(&models.MovementWagon{}).
			Where("movement_id IN ?", ids).
			Distinct("wagon_id").
			Pluck("wagon_id", &wagonIDs).Error; err != nil {
			return fmt.Errorf("movement: sweep: wagons: %w", err)
		}
		for _, id := range wagonIDs {
			if err := ledger.RefreshPointer(tx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.metrics.AddSweepFlips(flipped)
	return flipped, nil
}
