package api

import (
	"time"

	"github.com/zulandar/yardcap/internal/models"
)

type trackView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	NodeID    *uint  `json:"node_id,omitempty"`
	Length    int    `json:"length"`
	Unlimited bool   `json:"unlimited"`
}

func newTrackView(tr models.Track) trackView {
	return trackView{ID: tr.ID, Name: tr.Name, NodeID: tr.NodeID, Length: tr.Length, Unlimited: tr.Unlimited()}
}

type wagonView struct {
	ID             uint   `json:"id"`
	Number         string `json:"number,omitempty"`
	Length         int    `json:"length"`
	Content        string `json:"content,omitempty"`
	CurrentTrackID *uint  `json:"current_track_id"`
}

func newWagonView(w models.Wagon) wagonView {
	return wagonView{ID: w.ID, Number: w.NumberString(), Length: w.Length, Content: w.Content, CurrentTrackID: w.CurrentTrackID}
}

type eventView struct {
	ID              uint             `json:"id"`
	OccurredAt      time.Time        `json:"occurred_at"`
	Kind            models.EventKind `json:"kind"`
	TrackID         *uint            `json:"track_id"`
	PreviousTrackID *uint            `json:"previous_track_id"`
	MovementID      *uint            `json:"movement_id,omitempty"`
	DetachedFrom    *uint            `json:"detached_from,omitempty"`
	Note            string           `json:"note,omitempty"`
}

func newEventView(ev models.MovementEvent) eventView {
	return eventView{
		ID:              ev.ID,
		OccurredAt:      ev.OccurredAt.UTC(),
		Kind:            ev.Kind,
		TrackID:         ev.TrackID,
		PreviousTrackID: ev.PreviousTrackID,
		MovementID:      ev.MovementID,
		DetachedFrom:    ev.DetachedFrom,
		Note:            ev.Note,
	}
}

type historyView struct {
	Wagon  wagonView   `json:"wagon"`
	Events []eventView `json:"events"`
}

type movementView struct {
	ID            uint                `json:"id"`
	Kind          models.MovementKind `json:"kind"`
	ScheduledAt   time.Time           `json:"scheduled_at"`
	SourceTrackID *uint               `json:"source_track_id"`
	DestTrackID   *uint               `json:"dest_track_id"`
	IsPlanned     bool                `json:"is_planned"`
	WagonIDs      []uint              `json:"wagon_ids"`
	Note          string              `json:"note,omitempty"`
}

func newMovementView(m models.Movement) movementView {
	return movementView{
		ID:            m.ID,
		Kind:          m.Kind,
		ScheduledAt:   m.ScheduledAt.UTC(),
		SourceTrackID: m.SourceTrackID,
		DestTrackID:   m.DestTrackID,
		IsPlanned:     m.IsPlanned,
		WagonIDs:      m.WagonIDs(),
		Note:          m.Note,
	}
}

type restrictionView struct {
	ID       uint                   `json:"id"`
	Type     models.RestrictionType `json:"type"`
	Mode     models.RestrictionMode `json:"mode"`
	Reason   string                 `json:"reason,omitempty"`
	StartsAt *time.Time             `json:"starts_at,omitempty"`
	EndsAt   *time.Time             `json:"ends_at,omitempty"`
	FirstDay string                 `json:"first_day,omitempty"`
	LastDay  string                 `json:"last_day,omitempty"`
	TimeFrom string                 `json:"time_from,omitempty"`
	TimeTo   string                 `json:"time_to,omitempty"`
	TrackIDs []uint                 `json:"track_ids"`
}

func newRestrictionView(r models.Restriction) restrictionView {
	v := restrictionView{
		ID:       r.ID,
		Type:     r.Type,
		Mode:     r.Mode,
		Reason:   r.Reason,
		StartsAt: r.StartsAt,
		EndsAt:   r.EndsAt,
		FirstDay: r.FirstDay,
		LastDay:  r.LastDay,
		TimeFrom: r.TimeFrom,
		TimeTo:   r.TimeTo,
		TrackIDs: make([]uint, len(r.Tracks)),
	}
	for i, t := range r.Tracks {
		v.TrackIDs[i] = t.TrackID
	}
	return v
}
