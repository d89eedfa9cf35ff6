package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	q := NewQueue(client, nil)
	return q, mock
}

func TestEnqueueUnknownType(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), JobType("nope"), struct{}{})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestDequeueDecodesJob(t *testing.T) {
	q, mock := newTestQueue(t)
	payload, _ := json.Marshal(InviteArchivePayload{BookingID: uuid.New(), BookingUID: "abc"})
	raw, _ := json.Marshal(Job{ID: "j1", Type: JobTypeInviteArchive, Payload: payload})
	mock.ExpectBLPop(dequeueTimeout, QueueWebhooks, QueueInvites).SetVal([]string{QueueInvites, string(raw)})

	job, key, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueInvites, key)
	assert.Equal(t, "j1", job.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueTimeoutReturnsNil(t *testing.T) {
	q, mock := newTestQueue(t)
	mock.ExpectBLPop(dequeueTimeout, QueueWebhooks, QueueInvites).RedisNil()

	job, _, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryRequeuesToOwnQueue(t *testing.T) {
	q, mock := newTestQueue(t)
	job := &Job{ID: "j2", Type: JobTypeWebhookDelivery, Payload: json.RawMessage(`{}`), CreatedAt: time.Unix(0, 0).UTC()}

	expected := *job
	expected.Attempt = 1
	raw, _ := json.Marshal(&expected)
	mock.ExpectRPush(QueueWebhooks, raw).SetVal(1)

	require.NoError(t, q.Retry(context.Background(), job))
	assert.Equal(t, 1, job.Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryMovesToDLQAfterMaxRetries(t *testing.T) {
	q, mock := newTestQueue(t)
	job := &Job{ID: "j3", Type: JobTypeWebhookDelivery, Payload: json.RawMessage(`{}`), Attempt: MaxRetries - 1, CreatedAt: time.Unix(0, 0).UTC()}

	expected := *job
	expected.Attempt = MaxRetries
	raw, _ := json.Marshal(&expected)
	mock.ExpectRPush(QueueDLQ, raw).SetVal(1)

	require.NoError(t, q.Retry(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}
