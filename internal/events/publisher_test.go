package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCapturesPayload(t *testing.T) {
	var p Publisher = &Recorder{}
	ts := time.Date(2024, 8, 16, 18, 0, 0, 0, time.UTC)

	err := p.Publish(SubjectOptimized, OptimizedEvent{
		RunID:     "run-1",
		SquadIDs:  []int{1, 2, 3},
		TotalCost: decimal.RequireFromString("99.5"),
		TotalEV:   120.25,
		Timestamp: ts,
	})
	require.NoError(t, err)

	msgs := p.(*Recorder).Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, SubjectOptimized, msgs[0].Subject)

	var got OptimizedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []int{1, 2, 3}, got.SquadIDs)
	assert.True(t, got.TotalCost.Equal(decimal.RequireFromString("99.5")))
	assert.Equal(t, ts, got.Timestamp)
}

func TestRecorderRejectsUnencodable(t *testing.T) {
	r := &Recorder{}
	assert.Error(t, r.Publish(SubjectFailed, make(chan int)))
	assert.Empty(t, r.Messages())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(SubjectFailed, FailedEvent{RunID: "x"}))
	p.Close()
}
