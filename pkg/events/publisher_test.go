package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	channel string
	payload []byte
}

type fakeClient struct {
	calls []publishCall
	err   error
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.calls = append(f.calls, publishCall{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func TestBaseEvent(t *testing.T) {
	event := NewBaseEvent("intake.status_changed")
	assert.Equal(t, "intake.status_changed", event.EventType)
	assert.Equal(t, "intake", event.Source)
	assert.Equal(t, "1.0", event.Version)
	assert.False(t, event.Timestamp.IsZero())
}

func TestPublisher_StatusChanged(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, nil)
	pid := "p-1"

	p.StatusChanged(context.Background(), StatusChanged{
		OrgID: "org-1", ItemType: "MESSAGE", ItemID: "m-1",
		Stage: "process_message", Status: "PROCESSED", PropertyID: &pid, Confidence: 0.9,
	})

	require.Len(t, client.calls, 1)
	assert.Equal(t, ChannelStatusChanged, client.calls[0].channel)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(client.calls[0].payload, &got))
	assert.Equal(t, "intake.status_changed", got["event_type"])
	assert.Equal(t, "PROCESSED", got["status"])
	assert.Equal(t, "p-1", got["property_id"])
}

func TestPublisher_ReviewEvents(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, nil)

	p.ReviewRaised(context.Background(), ReviewRaised{OrgID: "org-1", ReviewID: "r-1", Reason: "AMBIGUOUS_MATCH", Created: true})
	p.ReviewResolved(context.Background(), ReviewResolved{OrgID: "org-1", ReviewID: "r-1", Resolution: "DISMISS"})

	require.Len(t, client.calls, 2)
	assert.Equal(t, ChannelReviewRaised, client.calls[0].channel)
	assert.Equal(t, ChannelReviewResolved, client.calls[1].channel)
}

func TestPublisher_PublishErrorIsSwallowed(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	p := NewPublisher(client, nil)

	assert.NotPanics(t, func() {
		p.ReviewRaised(context.Background(), ReviewRaised{OrgID: "org-1"})
	})
	err := p.publish(context.Background(), ChannelReviewRaised, ReviewRaised{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestRecorder(t *testing.T) {
	var n Notifier = &Recorder{}
	n.ReviewRaised(context.Background(), ReviewRaised{Reason: "VOCAL_EMPTY_TRANSCRIPT"})
	n.StatusChanged(context.Background(), StatusChanged{Status: "REVIEW_REQUIRED"})

	r := n.(*Recorder)
	assert.Equal(t, 1, r.RaisedCount())
	assert.Len(t, r.Statuses, 1)
}
