// Package replay reconstructs which wagons occupy a track at an instant by
// replaying the movements that touch it.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/metrics"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

// Options tune a replay.
type Options struct {
	// ExcludeMovements are left out of the replay, as if they did not exist.
	ExcludeMovements []uint
}

// Occupant is one wagon on the track in the snapshot.
type Occupant struct {
	WagonID    uint      `json:"wagon_id"`
	Number     string    `json:"number,omitempty"`
	Length     int       `json:"length"`
	Content    string    `json:"content,omitempty"`
	ArrivedAt  time.Time `json:"arrived_at"`
	Position   int       `json:"position"`
	MovementID *uint     `json:"movement_id,omitempty"`
}

// Snapshot is the occupancy of a track at a point in time.
type Snapshot struct {
	TrackID   uint       `json:"track_id"`
	At        time.Time  `json:"at"`
	Projected bool       `json:"projected"`
	FastPath  bool       `json:"fast_path"`
	Occupants []Occupant `json:"occupants"`
}

// OccupiedLength is the summed length of all occupants.
func (s *Snapshot) OccupiedLength() int {
	total := 0
	for _, o := range s.Occupants {
		total += o.Length
	}
	return total
}

// Has reports whether the wagon is among the occupants.
func (s *Snapshot) Has(wagonID uint) bool {
	for _, o := range s.Occupants {
		if o.WagonID == wagonID {
			return true
		}
	}
	return false
}

// WagonIDs returns the occupant ids in layout order.
func (s *Snapshot) WagonIDs() []uint {
	ids := make([]uint, len(s.Occupants))
	for i, o := range s.Occupants {
		ids[i] = o.WagonID
	}
	return ids
}

// Engine answers occupancy questions against the store.
type Engine struct {
	db      *gorm.DB
	clock   clock.Clock
	metrics *metrics.Collector
}

// New returns an Engine. m may be nil.
func New(db *gorm.DB, clk clock.Clock, m *metrics.Collector) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{db: db, clock: clk, metrics: m}
}

// Clock returns the engine's clock.
func (e *Engine) Clock() clock.Clock { return e.clock }

// WithDB returns a copy of the engine reading through db.
func (e *Engine) WithDB(db *gorm.DB) *Engine {
	cp := *e
	cp.db = db
	return &cp
}

// Step ranks break timestamp ties: placements replay before movements.
const (
	rankPlacement = iota
	rankMovement
)

type step struct {
	at         time.Time
	rank       int
	id         uint
	arrive     []uint
	depart     []uint
	movementID *uint
}

type stay struct {
	arrivedAt  time.Time
	movementID *uint
}

// OccupantsAt returns the wagons on trackID at t, ordered by arrival.
//
// When t is before now only executed movements are replayed; a movement
// counts as executed once its scheduled time has passed, whatever its stored
// flag says. When t is now or later planned movements are replayed too and
// the snapshot is marked projected. Initial placements onto the track are
// replayed alongside the movements.
func (e *Engine) OccupantsAt(ctx context.Context, trackID uint, t time.Time, opts ...Options) (*Snapshot, error) {
	start := time.Now()
	t = clock.Normalize(t)
	now := clock.Normalize(e.clock.Now())
	projected := !t.Before(now)
	defer func() { e.metrics.ObserveReplay(projected, time.Since(start)) }()

	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	excluded := make(map[uint]bool, len(opt.ExcludeMovements))
	for _, id := range opt.ExcludeMovements {
		excluded[id] = true
	}

	db := e.db.WithContext(ctx)
	snap := &Snapshot{TrackID: trackID, At: t, Projected: projected, Occupants: []Occupant{}}

	var loaded []models.Movement
	if err := db.Preload("Wagons").
		Where("(source_track_id = ? OR dest_track_id = ?) AND scheduled_at <= ?", trackID, trackID, t).
		Find(&loaded).Error; err != nil {
		return nil, fmt.Errorf("replay: load movements of track %d: %w", trackID, err)
	}
	movements := loaded[:0]
	for _, m := range loaded {
		if !excluded[m.ID] {
			movements = append(movements, m)
		}
	}

	var placements []models.MovementEvent
	if err := db.Where("detached_from IS NULL AND movement_id IS NULL AND kind = ? AND track_id = ? AND occurred_at <= ?",
		models.EventInitial, trackID, t).
		Find(&placements).Error; err != nil {
		return nil, fmt.Errorf("replay: load placements on track %d: %w", trackID, err)
	}

	if len(movements) == 0 && len(placements) == 0 {
		snap.FastPath = true
		if !projected {
			return snap, nil
		}
		return e.fromPointers(db, snap)
	}

	steps := make([]step, 0, len(movements)+len(placements))
	for _, p := range placements {
		steps = append(steps, step{at: p.OccurredAt, rank: rankPlacement, id: p.ID, arrive: []uint{p.WagonID}})
	}
	for _, m := range movements {
		executed := !m.IsPlanned || !m.ScheduledAt.After(now)
		if !projected && !executed {
			continue
		}
		s, err := movementStep(m, trackID)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.id < b.id
	})

	present := make(map[uint]stay)
	for _, s := range steps {
		for _, id := range s.depart {
			delete(present, id)
		}
		for _, id := range s.arrive {
			if _, ok := present[id]; ok {
				continue
			}
			present[id] = stay{arrivedAt: s.at, movementID: s.movementID}
		}
	}
	if len(present) == 0 {
		return snap, nil
	}

	ids := make([]uint, 0, len(present))
	for id := range present {
		ids = append(ids, id)
	}
	var wagons []models.Wagon
	if err := db.Where("id IN ?", ids).Find(&wagons).Error; err != nil {
		return nil, fmt.Errorf("replay: load wagons: %w", err)
	}
	for _, w := range wagons {
		st := present[w.ID]
		snap.Occupants = append(snap.Occupants, Occupant{
			WagonID:    w.ID,
			Number:     w.NumberString(),
			Length:     w.Length,
			Content:    w.Content,
			ArrivedAt:  st.arrivedAt,
			MovementID: st.movementID,
		})
	}
	layout(snap.Occupants)
	return snap, nil
}

// movementStep turns a movement into the arrivals and departures it causes
// on trackID.
func movementStep(m models.Movement, trackID uint) (step, error) {
	id := m.ID
	s := step{at: clock.Normalize(m.ScheduledAt), rank: rankMovement, id: m.ID, movementID: &id}
	wagons := m.WagonIDs()
	onSource := m.SourceTrackID != nil && *m.SourceTrackID == trackID
	onDest := m.DestTrackID != nil && *m.DestTrackID == trackID

	switch m.Kind {
	case models.MovementDelivery:
		if onDest {
			s.arrive = wagons
		}
	case models.MovementDeparture:
		if onSource {
			s.depart = wagons
		}
	case models.MovementInternal:
		if onSource {
			s.depart = wagons
		}
		if onDest {
			s.arrive = wagons
		}
	default:
		return step{}, fmt.Errorf("replay: movement %d has unknown kind %q", m.ID, m.Kind)
	}
	return s, nil
}

// fromPointers fills snap from the materialized wagon pointers. Pointers
// carry no arrival time, so occupants are laid out by wagon id.
func (e *Engine) fromPointers(db *gorm.DB, snap *Snapshot) (*Snapshot, error) {
	var wagons []models.Wagon
	if err := db.Where("current_track_id = ?", snap.TrackID).Find(&wagons).Error; err != nil {
		return nil, fmt.Errorf("replay: load wagons on track %d: %w", snap.TrackID, err)
	}
	for _, w := range wagons {
		snap.Occupants = append(snap.Occupants, Occupant{
			WagonID: w.ID,
			Number:  w.NumberString(),
			Length:  w.Length,
			Content: w.Content,
		})
	}
	layout(snap.Occupants)
	return snap, nil
}

// layout sorts occupants by (arrival, wagon id) and assigns each the summed
// length of everything before it.
func layout(occ []Occupant) {
	sort.Slice(occ, func(i, j int) bool {
		if !occ[i].ArrivedAt.Equal(occ[j].ArrivedAt) {
			return occ[i].ArrivedAt.Before(occ[j].ArrivedAt)
		}
		return occ[i].WagonID < occ[j].WagonID
	})
	offset := 0
	for i := range occ {
		occ[i].Position = offset
		offset += occ[i].Length
	}
}
