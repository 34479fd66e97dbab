package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/yardcap/internal/capacity"
	"github.com/zulandar/yardcap/internal/clock"
	"github.com/zulandar/yardcap/internal/ledger"
	"github.com/zulandar/yardcap/internal/models"
	"github.com/zulandar/yardcap/internal/movement"
	"github.com/zulandar/yardcap/internal/restriction"
	"github.com/zulandar/yardcap/internal/validate"
	"github.com/zulandar/yardcap/internal/yard"
)

// fail writes err with the status its kind maps to.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, yard.ErrTrackNotFound),
		errors.Is(err, yard.ErrWagonNotFound),
		errors.Is(err, capacity.ErrTrackNotFound),
		errors.Is(err, ledger.ErrWagonNotFound),
		errors.Is(err, movement.ErrMovementNotFound),
		errors.Is(err, restriction.ErrRestrictionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, restriction.ErrInvalid):
		status = http.StatusUnprocessableEntity
	}
	c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// idParam parses the :id path parameter.
func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, errors.New("id must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}

// uintQuery parses an optional numeric query parameter. Missing means 0.
func uintQuery(c *gin.Context, key string) (uint, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		badRequest(c, errors.New(key+" must be a non-negative integer"))
		return 0, false
	}
	return uint(n), true
}

// lengthQuery parses the optional length parameter. Lengths are capped at
// capacity.UnlimitedLength so they always fit an int.
func lengthQuery(c *gin.Context) (int, bool) {
	v := c.Query("length")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 31)
	if err != nil {
		badRequest(c, fmt.Errorf("length must be an integer between 0 and %d", capacity.UnlimitedLength))
		return 0, false
	}
	return int(n), true
}

// atQuery parses the optional at parameter. Missing means now.
func (s *server) atQuery(c *gin.Context) (time.Time, bool) {
	v := c.Query("at")
	if v == "" {
		return clock.Normalize(s.clock.Now()), true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		badRequest(c, errors.New("at must be an RFC 3339 timestamp"))
		return time.Time{}, false
	}
	return clock.Normalize(t), true
}

func (s *server) handleTrackList(c *gin.Context) {
	tracks, err := yard.ListTracks(s.db.WithContext(c.Request.Context()), c.Query("node"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]trackView, len(tracks))
	for i, tr := range tracks {
		out[i] = newTrackView(tr)
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleOccupants(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	at, ok := s.atQuery(c)
	if !ok {
		return
	}
	if _, err := yard.GetTrack(s.db.WithContext(c.Request.Context()), id); err != nil {
		fail(c, err)
		return
	}
	snap, err := s.replay.OccupantsAt(c.Request.Context(), id, at)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *server) handleOccupancy(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	at, ok := s.atQuery(c)
	if !ok {
		return
	}
	occ, err := s.capacity.OccupancyAt(c.Request.Context(), id, at)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

func (s *server) handleCapacity(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	at, ok := s.atQuery(c)
	if !ok {
		return
	}
	length, ok := lengthQuery(c)
	if !ok {
		return
	}
	report, err := s.capacity.CheckWithConflicts(c.Request.Context(), id, at, length)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *server) handleWagonList(c *gin.Context) {
	trackID, ok := uintQuery(c, "track")
	if !ok {
		return
	}
	wagons, err := yard.ListWagons(s.db.WithContext(c.Request.Context()), yard.WagonFilters{
		TrackID:  trackID,
		Number:   c.Query("number"),
		Unplaced: c.Query("unplaced") == "true",
	})
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]wagonView, len(wagons))
	for i, w := range wagons {
		out[i] = newWagonView(w)
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleWagonHistory(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	db := s.db.WithContext(c.Request.Context())
	w, err := yard.GetWagon(db, id)
	if err != nil {
		fail(c, err)
		return
	}
	events, err := ledger.History(db, id)
	if err != nil {
		fail(c, err)
		return
	}
	out := historyView{Wagon: newWagonView(*w), Events: make([]eventView, len(events))}
	for i, ev := range events {
		out.Events[i] = newEventView(ev)
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleRestrictionList(c *gin.Context) {
	trackID, ok := uintQuery(c, "track")
	if !ok {
		return
	}
	list, err := restriction.List(s.db.WithContext(c.Request.Context()), restriction.ListFilters{
		TrackID: trackID,
		Type:    models.RestrictionType(c.Query("type")),
	})
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]restrictionView, len(list))
	for i, r := range list {
		out[i] = newRestrictionView(r)
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleRestrictionsActive(c *gin.Context) {
	at, ok := s.atQuery(c)
	if !ok {
		return
	}
	source, ok := uintQuery(c, "source")
	if !ok {
		return
	}
	dest, ok := uintQuery(c, "dest")
	if !ok {
		return
	}
	kind, err := models.ParseMovementKind(c.Query("kind"))
	if err != nil {
		badRequest(c, err)
		return
	}
	active, err := s.restrictions.Active(c.Request.Context(), kind, at, optional(source), optional(dest))
	if err != nil {
		fail(c, err)
		return
	}
	if active == nil {
		active = []restriction.Active{}
	}
	c.JSON(http.StatusOK, active)
}

type restrictionRequest struct {
	Type     models.RestrictionType `json:"type" binding:"required"`
	Mode     models.RestrictionMode `json:"mode" binding:"required"`
	Reason   string                 `json:"reason"`
	TrackIDs []uint                 `json:"track_ids" binding:"required,min=1"`
	StartsAt time.Time              `json:"starts_at"`
	EndsAt   time.Time              `json:"ends_at"`
	FirstDay string                 `json:"first_day"`
	LastDay  string                 `json:"last_day"`
	TimeFrom string                 `json:"time_from"`
	TimeTo   string                 `json:"time_to"`
}

func (s *server) handleRestrictionCreate(c *gin.Context) {
	var req restrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := restriction.Create(s.db.WithContext(c.Request.Context()), restriction.CreateOpts{
		Type:     req.Type,
		Reason:   req.Reason,
		TrackIDs: req.TrackIDs,
		Spec: restriction.Spec{
			Mode:     req.Mode,
			StartsAt: req.StartsAt,
			EndsAt:   req.EndsAt,
			FirstDay: req.FirstDay,
			LastDay:  req.LastDay,
			TimeFrom: req.TimeFrom,
			TimeTo:   req.TimeTo,
		},
	}, s.loc)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newRestrictionView(*r))
}

func (s *server) handleRestrictionDelete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := restriction.Delete(s.db.WithContext(c.Request.Context()), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleMovementList(c *gin.Context) {
	trackID, ok := uintQuery(c, "track")
	if !ok {
		return
	}
	wagonID, ok := uintQuery(c, "wagon")
	if !ok {
		return
	}
	filters := movement.ListFilters{
		TrackID: trackID,
		WagonID: wagonID,
		Kind:    models.MovementKind(c.Query("kind")),
	}
	if v := c.Query("planned"); v != "" {
		planned, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, errors.New("planned must be true or false"))
			return
		}
		filters.Planned = &planned
	}
	list, err := s.movements.List(c.Request.Context(), filters)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]movementView, len(list))
	for i, m := range list {
		out[i] = newMovementView(m)
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) handleMovementValidate(c *gin.Context) {
	var p validate.Proposal
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.movements.Validator().Validate(c.Request.Context(), p)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type movementRequest struct {
	validate.Proposal
	Acknowledge bool `json:"acknowledge"`
}

func (s *server) handleMovementCreate(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, res, err := s.movements.Create(c.Request.Context(), req.Proposal, req.Acknowledge)
	var ie *movement.IntegrityError
	switch {
	case errors.Is(err, movement.ErrInvalid):
		c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "proposal is invalid", "validation": res})
		return
	case errors.Is(err, movement.ErrUnacknowledged):
		c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"error": "warnings must be acknowledged", "validation": res})
		return
	case errors.As(err, &ie):
		c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"error": "integrity check failed", "violations": ie.Guard.Violations})
		return
	case err != nil:
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"movement": newMovementView(*m), "validation": res})
}

func (s *server) handleMovementDelete(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	res, err := s.movements.Delete(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func optional(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
