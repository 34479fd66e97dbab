package models

import "fmt"

// MovementKind is the kind of a planned or executed movement.
type MovementKind string

const (
	MovementDelivery  MovementKind = "delivery"
	MovementDeparture MovementKind = "departure"
	MovementInternal  MovementKind = "internal"
)

// MovementKinds lists every movement kind.
var MovementKinds = []MovementKind{MovementDelivery, MovementDeparture, MovementInternal}

// ParseMovementKind converts s into a MovementKind.
func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown movement kind %q (want delivery, departure or internal)", s)
	}
	return k, nil
}

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementDelivery, MovementDeparture, MovementInternal:
		return true
	}
	return false
}

// NeedsSource reports whether the kind moves wagons off a track.
func (k MovementKind) NeedsSource() bool {
	return k == MovementDeparture || k == MovementInternal
}

// NeedsDestination reports whether the kind moves wagons onto a track.
func (k MovementKind) NeedsDestination() bool {
	return k == MovementDelivery || k == MovementInternal
}

// EventKind is the kind of a ledger entry.
type EventKind string

const (
	EventInitial    EventKind = "initial"
	EventDelivery   EventKind = "delivery"
	EventDeparture  EventKind = "departure"
	EventInternal   EventKind = "internal"
	EventCorrection EventKind = "correction"
)

// EventKindFor returns the ledger kind written for a movement of kind k.
func EventKindFor(k MovementKind) (EventKind, error) {
	switch k {
	case MovementDelivery:
		return EventDelivery, nil
	case MovementDeparture:
		return EventDeparture, nil
	case MovementInternal:
		return EventInternal, nil
	}
	return "", fmt.Errorf("unknown movement kind %q", k)
}

// Standalone reports whether events of this kind exist without a movement.
func (k EventKind) Standalone() bool {
	return k == EventInitial || k == EventCorrection
}

// RestrictionType says which direction a restriction blocks.
type RestrictionType string

const (
	NoEntry RestrictionType = "no_entry"
	NoExit  RestrictionType = "no_exit"
)

// Valid reports whether t is a known restriction type.
func (t RestrictionType) Valid() bool {
	return t == NoEntry || t == NoExit
}

// RestrictionMode says how a restriction's time span is declared.
type RestrictionMode string

const (
	// RestrictionRange covers one continuous span from StartsAt to EndsAt.
	RestrictionRange RestrictionMode = "range"
	// RestrictionDaily repeats TimeFrom–TimeTo on each day FirstDay..LastDay.
	RestrictionDaily RestrictionMode = "daily"
	// RestrictionPermanent repeats TimeFrom–TimeTo on every date.
	RestrictionPermanent RestrictionMode = "permanent"
)

// Valid reports whether m is a known restriction mode.
func (m RestrictionMode) Valid() bool {
	switch m {
	case RestrictionRange, RestrictionDaily, RestrictionPermanent:
		return true
	}
	return false
}
