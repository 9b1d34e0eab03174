// Package events describes ride lifecycle notifications and fans them out
// to the configured sinks.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/example/campus-rides/internal/models"
)

type Type string

const (
	RideCreated       Type = "ride_created"
	ParticipantJoined Type = "participant_joined"
	JoinRequested     Type = "join_requested"
	JoinApproved      Type = "join_approved"
	JoinDeclined      Type = "join_declined"
	ParticipantLeft   Type = "participant_left"
	RideCompleted     Type = "ride_completed"
	RideCancelled     Type = "ride_cancelled"
	RideDeleted       Type = "ride_deleted"
	RatingSubmitted   Type = "rating_submitted"
)

// Event is one ride lifecycle change. Recipients lists who should be told in
// real time; Communities lets consumers aggregate per community.
type Event struct {
	Type        Type              `json:"type"`
	RideID      string            `json:"ride_id"`
	Actor       string            `json:"actor"`
	Subject     string            `json:"subject,omitempty"`
	Status      models.RideStatus `json:"status,omitempty"`
	Communities []string          `json:"communities,omitempty"`
	Recipients  []string          `json:"recipients,omitempty"`
	At          time.Time         `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory, for tests and local runs.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder { return &Recorder{ch: make(chan Event, size)} }

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
