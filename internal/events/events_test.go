package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	rec := NewRecorder(4)
	boom := errors.New("boom")
	m := Multi{failing{boom}, rec}

	err := m.Publish(context.Background(), Event{Type: RideCreated, RideID: "r1"})
	assert.ErrorIs(t, err, boom)

	got := rec.Drain()
	if assert.Len(t, got, 1) {
		assert.Equal(t, "r1", got[0].RideID)
	}
	assert.Empty(t, rec.Drain())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	rec := NewRecorder(1)
	_ = rec.Publish(context.Background(), Event{RideID: "a"})
	_ = rec.Publish(context.Background(), Event{RideID: "b"})
	assert.Len(t, rec.Drain(), 1)
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
