package eventbrite

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Text wraps the multi-part text fields Eventbrite returns.
type Text struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// DateTime mirrors the start/end objects; only UTC is consumed.
type DateTime struct {
	Timezone string `json:"timezone"`
	Local    string `json:"local"`
	UTC      string `json:"utc"`
}

// Event mirrors the subset of the Eventbrite event JSON the sync consumes.
type Event struct {
	ID          string   `json:"id"`
	Name        Text     `json:"name"`
	Description Text     `json:"description"`
	URL         string   `json:"url"`
	Start       DateTime `json:"start"`
	End         DateTime `json:"end"`
	Created     string   `json:"created"`
	Changed     string   `json:"changed"`
	Capacity    *int     `json:"capacity"`
	Status      string   `json:"status"`
	Currency    string   `json:"currency"`
}

// EventPayload is one undecoded element of the "events" field. Keeping it raw
// lets a single malformed event fail on its own instead of failing the batch.
type EventPayload json.RawMessage

// MarshalJSON returns the payload unchanged.
func (p EventPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// ErrInvalidEvent marks an event element that cannot be mapped.
var ErrInvalidEvent = errors.New("invalid event")

// DecodeEvent validates a payload into an Event. Type mismatches and missing
// required fields are reported as ErrInvalidEvent.
func DecodeEvent(p EventPayload) (Event, error) {
	var ev Event
	if err := json.Unmarshal(p, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	var missing []string
	if ev.ID == "" {
		missing = append(missing, "id")
	}
	if ev.Name.Text == "" {
		missing = append(missing, "name.text")
	}
	if ev.Start.UTC == "" {
		missing = append(missing, "start.utc")
	}
	if ev.End.UTC == "" {
		missing = append(missing, "end.utc")
	}
	if len(missing) > 0 {
		return ev, fmt.Errorf("%w: missing %v", ErrInvalidEvent, missing)
	}
	return ev, nil
}
