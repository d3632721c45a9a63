package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

// FareObservation is one canonical scraped fare. Immutable once stored.
type FareObservation struct {
	RouteID        string    `json:"route_id" validate:"required,route_id"`
	DepartureDate  time.Time `json:"departure_date" validate:"required"`
	ObservedAt     time.Time `json:"observed_at" validate:"required"`
	Price          float64   `json:"price" validate:"gt=0"`
	Currency       string    `json:"currency" validate:"required,len=3,uppercase"`
	SourceID       string    `json:"source_id" validate:"required"`
	Airline        string    `json:"airline,omitempty"`
	CabinClass     string    `json:"cabin_class,omitempty" validate:"omitempty,oneof=economy premium_economy business first"`
	FareType       string    `json:"fare_type,omitempty"`
	SeatsRemaining *int      `json:"seats_remaining,omitempty" validate:"omitempty,gte=0"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// ObservationKey identifies an observation for deduplication.
type ObservationKey struct {
	RouteID    string
	Departure  string
	SourceID   string
	ObservedAt int64
}

// Key returns the dedup identity of the observation.
func (o FareObservation) Key() ObservationKey {
	return ObservationKey{
		RouteID:    o.RouteID,
		Departure:  o.DepartureDate.Format(DateLayout),
		SourceID:   o.SourceID,
		ObservedAt: o.ObservedAt.UnixNano(),
	}
}

// Signature is a stable hex digest of the dedup key, used as the durable row id.
func (o FareObservation) Signature() string {
	k := o.Key()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", k.RouteID, k.Departure, k.SourceID, k.ObservedAt)))
	return hex.EncodeToString(sum[:])
}

// LeadDays is the number of days between observation and departure.
func (o FareObservation) LeadDays() float64 {
	return o.DepartureDate.Sub(o.ObservedAt).Hours() / 24
}

// RawRecord is an untyped scraped record as delivered by a source.
type RawRecord map[string]interface{}

// IngestBatch groups raw records from a single source.
type IngestBatch struct {
	SourceID string      `json:"source_id"`
	Records  []RawRecord `json:"records"`
}

// Rejection explains why a record of a batch was skipped.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestReport summarizes a batch ingestion.
type IngestReport struct {
	BatchID    string      `json:"batch_id"`
	SourceID   string      `json:"source_id"`
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"rejections,omitempty"`
}
