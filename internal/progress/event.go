// Package progress defines the event structures emitted by the scrape
// pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunHeartbeat Stage = "RUN_HEARTBEAT"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StagePageDone     Stage = "PAGE_DONE"
	StageItemDone     Stage = "ITEM_DONE"
	StageItemError    Stage = "ITEM_ERROR"
)

// Event captures a single milestone of a scrape run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, page, or item milestone occurred.
	Stage Stage
	// Page is the 1-based results page number for page events.
	Page int
	// Links counts permit links: new ones on a page event, the run total on
	// completion events.
	Links int
	// PermitNumber scopes item events to a permit once parsed.
	PermitNumber string
	// URL is the detail page URL for item events.
	URL string
	// Pages, Items, and Errors carry run totals on completion events.
	Pages  int
	Items  int
	Errors int
	// Dur captures execution latency for items and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHeartbeat, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page < 1 {
			return errors.New("page event requires a page number")
		}
	case StageItemDone, StageItemError:
		if e.URL == "" {
			return errors.New("item event requires a url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
