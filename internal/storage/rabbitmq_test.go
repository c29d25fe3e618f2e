package storage

import (
	"context"
	"errors"
	"testing"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMQ 记录发布调用的内存MessageQueue
type fakeMQ struct {
	exchanges  []string
	published  []fakePublish
	publishErr error
}

type fakePublish struct {
	exchange string
	key      string
	payload  interface{}
}

func (f *fakeMQ) PublishMessage(_ context.Context, exchange, key string, message []byte, _ bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, fakePublish{exchange: exchange, key: key, payload: message})
	return nil
}

func (f *fakeMQ) PublishJSON(_ context.Context, exchange, key string, data interface{}, _ bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, fakePublish{exchange: exchange, key: key, payload: data})
	return nil
}

func (f *fakeMQ) EnsureExchange(exchange, _ string, _ bool) error {
	f.exchanges = append(f.exchanges, exchange)
	return nil
}

func (f *fakeMQ) EnsureQueue(string, bool) error         { return nil }
func (f *fakeMQ) BindQueue(string, string, string) error { return nil }
func (f *fakeMQ) Close() error                           { return nil }

func TestEventPublisherDefaults(t *testing.T) {
	mq := &fakeMQ{}
	p, err := NewEventPublisher(mq, &config.RabbitMQConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{"match.score.exchange"}, mq.exchanges)
	assert.Equal(t, constants.ResumeScoredRoutingKey, p.scoredKey)
	assert.Equal(t, constants.ResumeReceivedRoutingKey, p.receivedKey)
}

func TestPublishReceived(t *testing.T) {
	mq := &fakeMQ{}
	p, err := NewEventPublisher(mq, &config.RabbitMQConfig{})
	require.NoError(t, err)

	p.PublishReceived(context.Background(), &ResumeReceivedEvent{
		SubmissionUUID:      "sub-1",
		OriginalFilename:    "resume.pdf",
		OriginalFilePathOSS: "resumes/sub-1.pdf",
		RawFileMD5:          "abc123",
		UploadTime:          1700000000,
	})

	require.Len(t, mq.published, 1)
	assert.Equal(t, constants.ResumeReceivedRoutingKey, mq.published[0].key)
	event, ok := mq.published[0].payload.(*ResumeReceivedEvent)
	require.True(t, ok)
	assert.Equal(t, "sub-1", event.SubmissionUUID)
	assert.Equal(t, "resumes/sub-1.pdf", event.OriginalFilePathOSS)
}

func TestPublishScoredRoutingKey(t *testing.T) {
	mq := &fakeMQ{}
	p, err := NewEventPublisher(mq, &config.RabbitMQConfig{ScoredRoutingKey: "hr.scored"})
	require.NoError(t, err)

	p.PublishScored(context.Background(), &types.ScoreReport{
		SubmissionUUID: "sub-2",
		JobID:          "job-1",
		FinalScore:     7.5,
	})

	require.Len(t, mq.published, 1)
	assert.Equal(t, "hr.scored", mq.published[0].key)
	event, ok := mq.published[0].payload.(ResumeScoredEvent)
	require.True(t, ok)
	assert.Equal(t, 7.5, event.FinalScore)
}

func TestPublishFailureDoesNotPanic(t *testing.T) {
	mq := &fakeMQ{publishErr: errors.New("broker down")}
	p, err := NewEventPublisher(mq, &config.RabbitMQConfig{})
	require.NoError(t, err)

	// 事件是尽力通知，broker故障只记日志
	p.PublishReceived(context.Background(), &ResumeReceivedEvent{SubmissionUUID: "sub-3"})
	p.PublishScored(context.Background(), &types.ScoreReport{SubmissionUUID: "sub-3"})
	assert.Empty(t, mq.published)
}
