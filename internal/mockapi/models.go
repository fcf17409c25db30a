package mockapi

import "time"

// wireLayout is how Eventbrite renders UTC instants ("2026-10-19T18:00:00Z").
const wireLayout = "2006-01-02T15:04:05Z"

// Token is a private OAuth token accepted by the owned_events endpoint.
type Token struct {
	Token     string    `json:"token"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one row of the mock organizer's catalogue.
type Event struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DescriptionHTML string    `json:"description_html"`
	URL             string    `json:"url"`
	Timezone        string    `json:"timezone"`
	StartUTC        time.Time `json:"start_utc"`
	EndUTC          time.Time `json:"end_utc"`
	Created         time.Time `json:"created"`
	Changed         time.Time `json:"changed"`
	Capacity        *int      `json:"capacity"`
	Status          string    `json:"status"`
	Currency        string    `json:"currency"`
}

// Pagination mirrors the Eventbrite pagination envelope.
type Pagination struct {
	ObjectCount  int  `json:"object_count"`
	PageNumber   int  `json:"page_number"`
	PageSize     int  `json:"page_size"`
	PageCount    int  `json:"page_count"`
	HasMoreItems bool `json:"has_more_items"`
}

// EventPage is one page of the owned_events listing.
type EventPage struct {
	Events     []Event
	Pagination Pagination
}
