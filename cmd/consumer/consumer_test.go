package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/config"
	"github.com/example/campus-rides/internal/events"
)

// fakeReader serves queued results, then cancels the consumer.
type fakeReader struct {
	results []readResult
	cancel  context.CancelFunc
}

type readResult struct {
	msg kafka.Message
	err error
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.results) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.msg, r.err
}

// fakeUpdater fails the first failN increments.
type fakeUpdater struct {
	failN  int
	calls  int
	counts map[string]int64
}

func (f *fakeUpdater) HIncrBy(ctx context.Context, key, field string, n int64) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("hincrby fail")
	}
	f.counts[key+"/"+field] += n
	return nil
}

func eventMessage(t *testing.T, e events.Event) readResult {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return readResult{msg: kafka.Message{Key: []byte(e.RideID), Value: b}}
}

func testConfig() config.ConsumerConfig {
	return config.ConsumerConfig{RetryAttempts: 3, RetryDelay: time.Millisecond}
}

func TestConsumeCountsEventsAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{cancel: cancel, results: []readResult{
		eventMessage(t, events.Event{Type: events.RideCreated, RideID: "r1", Communities: []string{"Chapman"}}),
		{msg: kafka.Message{Value: []byte("not json")}},
		eventMessage(t, events.Event{Type: events.ParticipantJoined, RideID: "r1", Communities: []string{"Chapman"}}),
	}}
	u := &fakeUpdater{failN: 1, counts: map[string]int64{}}

	consume(ctx, r, u, testConfig(), slog.New(slog.NewJSONHandler(io.Discard, nil)))

	assert.Equal(t, int64(1), u.counts["community:stats:chapman/ride_created"])
	assert.Equal(t, int64(1), u.counts["community:stats:chapman/participant_joined"])
	assert.Equal(t, 3, u.calls)
}

func TestConsumeSkipsEventWhenRetriesExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{cancel: cancel, results: []readResult{
		eventMessage(t, events.Event{Type: events.RideCreated, RideID: "r1", Communities: []string{"Chapman"}}),
		eventMessage(t, events.Event{Type: events.RideCancelled, RideID: "r1", Communities: []string{"Chapman"}}),
	}}
	u := &fakeUpdater{failN: 3, counts: map[string]int64{}}

	consume(ctx, r, u, testConfig(), slog.New(slog.NewJSONHandler(io.Discard, nil)))

	assert.Zero(t, u.counts["community:stats:chapman/ride_created"])
	assert.Equal(t, int64(1), u.counts["community:stats:chapman/ride_cancelled"])
}

func TestConsumeReturnsOnCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeReader{cancel: cancel, results: []readResult{{err: errors.New("broker down")}}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan struct{})
	go func() {
		consume(ctx, r, &fakeUpdater{counts: map[string]int64{}}, testConfig(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not stop after cancel")
	}
}
