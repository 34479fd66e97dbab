package movement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/yardcap/internal/ledger"
	"github.com/zulandar/yardcap/internal/models"
	"gorm.io/gorm"
)

// Guard check names.
const (
	CheckCapacity = "capacity"
	CheckChain    = "chain"
	CheckNumber   = "number"
)

// GuardViolation is one invariant the write would break.
type GuardViolation struct {
	Check   string `json:"check"`
	WagonID uint   `json:"wagon_id,omitempty"`
	TrackID uint   `json:"track_id,omitempty"`
	Message string `json:"message"`
}

// GuardResult is the outcome of the write-time checks.
type GuardResult struct {
	Violations []GuardViolation `json:"violations"`
}

// OK reports whether no invariant was violated.
func (g *GuardResult) OK() bool { return len(g.Violations) == 0 }

func (g *GuardResult) String() string {
	parts := make([]string, len(g.Violations))
	for i, v := range g.Violations {
		parts[i] = v.Check + ": " + v.Message
	}
	return strings.Join(parts, "; ")
}

// IntegrityError wraps a failed guard. It matches ErrIntegrity.
type IntegrityError struct {
	Guard *GuardResult
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrIntegrity, e.Guard)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// guard re-checks, inside the write transaction, what validation promised:
// the destination holds its wagons at the movement's time, every wagon's
// history still chains, and no wagon number sits on two tracks.
func (s *Service) guard(ctx context.Context, tx *gorm.DB, m *models.Movement) (*GuardResult, error) {
	g := &GuardResult{}

	if m.DestTrackID != nil {
		checker := s.validator.Capacity().WithDB(tx)
		occ, err := checker.OccupancyAt(ctx, *m.DestTrackID, m.ScheduledAt)
		if err != nil {
			return nil, err
		}
		if !occ.Unlimited && occ.OccupiedLength > occ.TotalLength {
			g.Violations = append(g.Violations, GuardViolation{
				Check:   CheckCapacity,
				TrackID: *m.DestTrackID,
				Message: fmt.Sprintf("track %d would hold %d of %d", *m.DestTrackID, occ.OccupiedLength, occ.TotalLength),
			})
		}
		// The movement is written already, so later arrivals replay with it.
		overflows, err := checker.ExecutedOverflows(ctx, *m.DestTrackID, m.ScheduledAt, nil)
		if err != nil {
			return nil, err
		}
		for _, o := range overflows {
			g.Violations = append(g.Violations, GuardViolation{
				Check:   CheckCapacity,
				TrackID: *m.DestTrackID,
				Message: fmt.Sprintf("track %d would hold %d of %d at %s", *m.DestTrackID, o.OccupiedLength, o.TotalLength, o.At.Format(time.RFC3339)),
			})
		}
	}

	var numbers []string
	for _, id := range m.WagonIDs() {
		v, err := ledger.CheckChain(tx, id, m.ScheduledAt, m.SourceTrackID, m.DestTrackID, m.ID)
		if err != nil {
			return nil, err
		}
		if v != nil {
			g.Violations = append(g.Violations, GuardViolation{Check: CheckChain, WagonID: id, Message: v.Message})
		}
		var w models.Wagon
		if err := tx.First(&w, id).Error; err != nil {
			return nil, fmt.Errorf("movement: guard: load wagon %d: %w", id, err)
		}
		if w.Number != nil && *w.Number != "" {
			numbers = append(numbers, *w.Number)
		}
	}

	for _, number := range numbers {
		var tracks int64
		if err := tx.Model(&models.Wagon{}).
			Where("number = ? AND current_track_id IS NOT NULL", number).
			Distinct("current_track_id").
			Count(&tracks).Error; err != nil {
			return nil, fmt.Errorf("movement: guard: tracks of number %s: %w", number, err)
		}
		if tracks > 1 {
			g.Violations = append(g.Violations, GuardViolation{
				Check:   CheckNumber,
				Message: fmt.Sprintf("wagon number %s is on %d tracks", number, tracks),
			})
		}
	}
	return g, nil
}
