// Package capacity answers how much of a track's usable length is taken at a
// point in time, and whether a planned arrival later on would stop fitting.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/replay"
	"gorm.io/gorm"
)

// UnlimitedLength is reported as the available length of tracks without a
// usable length.
const UnlimitedLength = math.MaxInt32

// DefaultHorizon bounds how far ahead FutureConflicts looks.
const DefaultHorizon = 30 * 24 * time.Hour

// ErrTrackNotFound is returned for an unknown track id.
var ErrTrackNotFound = errors.New("capacity: track not found")

// Occupancy is the length accounting of a track at an instant.
type Occupancy struct {
	TrackID         uint      `json:"track_id"`
	At              time.Time `json:"at"`
	TotalLength     int       `json:"total_length"`
	OccupiedLength  int       `json:"occupied_length"`
	AvailableLength int       `json:"available_length"`
	WagonCount      int       `json:"wagon_count"`
	Unlimited       bool      `json:"unlimited"`
}

// Fits reports whether additional length still fits.
func (o *Occupancy) Fits(additional int) bool {
	return o.Unlimited || additional <= o.AvailableLength
}

// Conflict is a planned arrival that would no longer fit.
type Conflict struct {
	MovementID          uint      `json:"movement_id"`
	ScheduledAt         time.Time `json:"scheduled_at"`
	AvailableAtThatTime int       `json:"available_at_that_time"`
	Required            int       `json:"required"`
	Shortfall           int       `json:"shortfall"`
}

// Report combines the immediate decision with the downstream conflicts.
type Report struct {
	TrackID         uint       `json:"track_id"`
	At              time.Time  `json:"at"`
	HasCapacity     bool       `json:"has_capacity"`
	AvailableLength int        `json:"available_length"`
	Required        int        `json:"required"`
	FutureConflicts []Conflict `json:"future_conflicts"`
}

// Checker computes occupancy on top of a replay engine.
type Checker struct {
	db      *gorm.DB
	replay  *replay.Engine
	horizon time.Duration
}

// New returns a Checker. A zero horizon means DefaultHorizon.
func New(db *gorm.DB, engine *replay.Engine, horizon time.Duration) *Checker {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Checker{db: db, replay: engine, horizon: horizon}
}

// WithDB returns a copy of the checker that reads through db, typically an
// open transaction.
func (c *Checker) WithDB(db *gorm.DB) *Checker {
	cp := *c
	cp.db = db
	cp.replay = c.replay.WithDB(db)
	return &cp
}

// Horizon is how far ahead FutureConflicts looks.
func (c *Checker) Horizon() time.Duration { return c.horizon }

func (c *Checker) track(ctx context.Context, trackID uint) (*models.Track, error) {
	var tr models.Track
	if err := c.db.WithContext(ctx).First(&tr, trackID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTrackNotFound, trackID)
		}
		return nil, fmt.Errorf("capacity: load track %d: %w", trackID, err)
	}
	return &tr, nil
}

// OccupancyAt returns the occupancy of trackID at t.
func (c *Checker) OccupancyAt(ctx context.Context, trackID uint, t time.Time, opts ...replay.Options) (*Occupancy, error) {
	tr, err := c.track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return c.occupancy(ctx, tr, t, opts...)
}

func (c *Checker) occupancy(ctx context.Context, tr *models.Track, t time.Time, opts ...replay.Options) (*Occupancy, error) {
	snap, err := c.replay.OccupantsAt(ctx, tr.ID, t, opts...)
	if err != nil {
		return nil, err
	}
	occ := &Occupancy{
		TrackID:        tr.ID,
		At:             snap.At,
		TotalLength:    tr.Length,
		OccupiedLength: snap.OccupiedLength(),
		WagonCount:     len(snap.Occupants),
		Unlimited:      tr.Unlimited(),
	}
	if occ.Unlimited {
		occ.AvailableLength = UnlimitedLength
	} else {
		occ.AvailableLength = max(0, tr.Length-occ.OccupiedLength)
	}
	return occ, nil
}

// HasCapacity reports whether additional length fits on trackID at t.
func (c *Checker) HasCapacity(ctx context.Context, trackID uint, t time.Time, additional int) (bool, error) {
	occ, err := c.OccupancyAt(ctx, trackID, t)
	if err != nil {
		return false, err
	}
	return occ.Fits(additional), nil
}

// FutureConflicts lists planned arrivals on trackID within the horizon after
// t that would not fit once additional length has been added at t. Each
// arrival is checked at its own time with itself left out of the replay.
func (c *Checker) FutureConflicts(ctx context.Context, trackID uint, t time.Time, additional int, opts ...replay.Options) ([]Conflict, error) {
	tr, err := c.track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return c.futureConflicts(ctx, tr, t, additional, opts...)
}

func (c *Checker) futureConflicts(ctx context.Context, tr *models.Track, t time.Time, additional int, opts ...replay.Options) ([]Conflict, error) {
	if tr.Unlimited() {
		return nil, nil
	}
	t = clock.Normalize(t)
	now := clock.Normalize(c.replay.Clock().Now())
	var exclude []uint
	if len(opts) > 0 {
		exclude = opts[0].ExcludeMovements
	}

	q := c.db.WithContext(ctx).Preload("Wagons").
		Where("dest_track_id = ? AND kind IN ?", tr.ID, []models.MovementKind{models.MovementDelivery, models.MovementInternal}).
		Where("scheduled_at > ? AND scheduled_at > ? AND scheduled_at <= ?", t, now, t.Add(c.horizon))
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	var planned []models.Movement
	if err := q.Order("scheduled_at ASC, id ASC").Find(&planned).Error; err != nil {
		return nil, fmt.Errorf("capacity: planned arrivals on track %d: %w", tr.ID, err)
	}

	var conflicts []Conflict
	for _, m := range planned {
		required, err := c.requiredLength(ctx, m.WagonIDs())
		if err != nil {
			return nil, err
		}
		ex := append(append([]uint(nil), exclude...), m.ID)
		occ, err := c.occupancy(ctx, tr, m.ScheduledAt, replay.Options{ExcludeMovements: ex})
		if err != nil {
			return nil, err
		}
		remaining := max(0, occ.AvailableLength-additional)
		if required > remaining {
			conflicts = append(conflicts, Conflict{
				MovementID:          m.ID,
				ScheduledAt:         occ.At,
				AvailableAtThatTime: remaining,
				Required:            required,
				Shortfall:           required - remaining,
			})
		}
	}
	return conflicts, nil
}

func (c *Checker) requiredLength(ctx context.Context, wagonIDs []uint) (int, error) {
	if len(wagonIDs) == 0 {
		return 0, nil
	}
	var total int64
	if err := c.db.WithContext(ctx).Model(&models.Wagon{}).
		Where("id IN ?", wagonIDs).
		Select("COALESCE(SUM(length), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("capacity: sum wagon lengths: %w", err)
	}
	return int(total), nil
}

// CheckWithConflicts answers whether additional length fits on trackID at t
// and, when it does, which later planned arrivals it would squeeze out.
func (c *Checker) CheckWithConflicts(ctx context.Context, trackID uint, t time.Time, additional int, opts ...replay.Options) (*Report, error) {
	tr, err := c.track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	occ, err := c.occupancy(ctx, tr, t, opts...)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		TrackID:         tr.ID,
		At:              occ.At,
		HasCapacity:     occ.Fits(additional),
		AvailableLength: occ.AvailableLength,
		Required:        additional,
		FutureConflicts: []Conflict{},
	}
	if !rep.HasCapacity {
		return rep, nil
	}
	conflicts, err := c.futureConflicts(ctx, tr, t, additional, opts...)
	if err != nil {
		return nil, err
	}
	if conflicts != nil {
		rep.FutureConflicts = conflicts
	}
	return rep, nil
}

// Stay is length a pending write puts on a track until the wagon's next
// recorded event. A zero Until means the wagon stays put.
type Stay struct {
	WagonID uint
	Length  int
	Until   time.Time
}

func (s Stay) presentAt(t time.Time) bool {
	return s.Until.IsZero() || t.Before(s.Until)
}

// Overflow is an executed arrival at which the track holds more than its
// usable length.
type Overflow struct {
	At             time.Time `json:"at"`
	MovementID     uint      `json:"movement_id,omitempty"`
	TotalLength    int       `json:"total_length"`
	OccupiedLength int       `json:"occupied_length"`
}

// ExecutedOverflows checks the arrivals that already happened on trackID
// after t, up to now. Occupancy only grows at arrivals, so replaying the
// track at each of them, with stays added for wagons the replay does not
// already place there, covers every instant in (t, now]. Later planned
// arrivals are the business of FutureConflicts.
func (c *Checker) ExecutedOverflows(ctx context.Context, trackID uint, t time.Time, stays []Stay, opts ...replay.Options) ([]Overflow, error) {
	tr, err := c.track(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if tr.Unlimited() {
		return nil, nil
	}
	t = clock.Normalize(t)
	now := clock.Normalize(c.replay.Clock().Now())
	if !t.Before(now) {
		return nil, nil
	}
	var exclude []uint
	if len(opts) > 0 {
		exclude = opts[0].ExcludeMovements
	}

	arrivals, err := c.executedArrivals(ctx, tr.ID, t, now, exclude)
	if err != nil {
		return nil, err
	}
	var out []Overflow
	for _, a := range arrivals {
		snap, err := c.replay.OccupantsAt(ctx, tr.ID, a.at, opts...)
		if err != nil {
			return nil, err
		}
		occupied := snap.OccupiedLength()
		for _, s := range stays {
			if s.presentAt(a.at) && !snap.Has(s.WagonID) {
				occupied += s.Length
			}
		}
		if occupied > tr.Length {
			out = append(out, Overflow{At: a.at, MovementID: a.movementID, TotalLength: tr.Length, OccupiedLength: occupied})
		}
	}
	return out, nil
}

type arrival struct {
	at         time.Time
	movementID uint
}

// executedArrivals lists the distinct instants in (from, to] at which
// wagons arrived on trackID, by movement or initial placement.
func (c *Checker) executedArrivals(ctx context.Context, trackID uint, from, to time.Time, exclude []uint) ([]arrival, error) {
	db := c.db.WithContext(ctx)
	q := db.Model(&models.Movement{}).
		Where("dest_track_id = ? AND kind IN ?", trackID, []models.MovementKind{models.MovementDelivery, models.MovementInternal}).
		Where("scheduled_at > ? AND scheduled_at <= ?", from, to)
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	var movements []models.Movement
	if err := q.Order("scheduled_at ASC, id ASC").Find(&movements).Error; err != nil {
		return nil, fmt.Errorf("capacity: executed arrivals on track %d: %w", trackID, err)
	}
	var placements []models.MovementEvent
	if err := db.Where("detached_from IS NULL AND movement_id IS NULL AND kind = ? AND track_id = ?", models.EventInitial, trackID).
		Where("occurred_at > ? AND occurred_at <= ?", from, to).
		Find(&placements).Error; err != nil {
		return nil, fmt.Errorf("capacity: placements on track %d: %w", trackID, err)
	}

	seen := make(map[int64]bool)
	var out []arrival
	add := func(at time.Time, movementID uint) {
		at = clock.Normalize(at)
		if seen[at.Unix()] {
			return
		}
		seen[at.Unix()] = true
		out = append(out, arrival{at: at, movementID: movementID})
	}
	for _, p := range placements {
		add(p.OccurredAt, 0)
	}
	for _, m := range movements {
		add(m.ScheduledAt, m.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out, nil
}

// Replay returns the replay engine the checker reads through.
func (c *Checker) Replay() *replay.Engine { return c.replay }
