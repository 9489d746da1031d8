// Package availability describes the ticketing-site port the monitor polls.
package availability

import (
	"context"
	"errors"
	"time"
)

// ErrNoData means the source could not tell available from unavailable
// (empty page, unparseable markup, unknown station). It is a failed check,
// never an "unavailable" verdict.
var ErrNoData = errors.New("availability source returned no data")

// Query identifies exactly what to look for.
type Query struct {
	TrainNumber      string
	DepartureStation string
	ArrivalStation   string
	DepartureDate    time.Time
	SeatClass        string
	Berth            string
}

// Verdict is the structured result of one probe.
type Verdict struct {
	Available  bool   `json:"available"`
	Price      string `json:"price,omitempty"`
	CarNumber  string `json:"car_number,omitempty"`
	SeatNumber string `json:"seat_number,omitempty"`
}

// Train is one row of a route search.
type Train struct {
	Number        string
	DepartureTime string
	ArrivalTime   string
	Duration      string
}

// Source checks seat availability for a single train.
type Source interface {
	CheckAvailability(ctx context.Context, q Query) (*Verdict, error)
}

// Searcher lists trains for a route and date. Used by the conversation flow.
type Searcher interface {
	SearchTrains(ctx context.Context, departure, arrival string, date time.Time) ([]Train, error)
}
