package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"ctxbot-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProcessor struct {
	failures int
	calls    int
	seen     []tasks.IngestTask
}

func (p *scriptedProcessor) Process(_ context.Context, task tasks.IngestTask) error {
	p.calls++
	p.seen = append(p.seen, task)
	if p.calls <= p.failures {
		return errors.New("boom")
	}
	return nil
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string) (int64, error) { return 0, errors.New("redis down") }
func (brokenCounter) Reset(context.Context, string) error         { return nil }

// flakyCounter 前 failures 次 Incr 失败，之后正常计数；onIncr 在每次调用时执行。
type flakyCounter struct {
	failures int
	calls    int
	inner    AttemptCounter
	onIncr   func(call int)
}

func (c *flakyCounter) Incr(ctx context.Context, jobID string) (int64, error) {
	c.calls++
	if c.onIncr != nil {
		c.onIncr(c.calls)
	}
	if c.calls <= c.failures {
		return 0, errors.New("redis down")
	}
	return c.inner.Incr(ctx, jobID)
}

func (c *flakyCounter) Reset(ctx context.Context, jobID string) error { return c.inner.Reset(ctx, jobID) }

// fakeReader 依次返回 msgs，取完后取消 ctx，使 consume 退出。
type fakeReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
	events []string
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	r.events = append(r.events, fmt.Sprintf("fetch:%d", m.Offset))
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.events = append(r.events, fmt.Sprintf("commit:%d", m.Offset))
	}
	return nil
}

func encodeTask(t *testing.T, task tasks.IngestTask) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func newRedisCounter(t *testing.T) (*RedisAttemptCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAttemptCounter(client), mr
}

func TestHandleMessage_SuccessAfterRetryResetsCounter(t *testing.T) {
	counter, mr := newRedisCounter(t)
	p := &scriptedProcessor{failures: 1}

	commit := HandleMessage(context.Background(), encodeTask(t, tasks.IngestTask{JobID: "job-1", Title: "t", Content: "c"}), p, counter, 0)

	assert.True(t, commit)
	assert.Equal(t, 2, p.calls)
	assert.False(t, mr.Exists("kafka:attempts:job-1"))
}

func TestHandleMessage_GivesUpAfterMaxAttempts(t *testing.T) {
	counter, mr := newRedisCounter(t)
	p := &scriptedProcessor{failures: 10}

	commit := HandleMessage(context.Background(), encodeTask(t, tasks.IngestTask{JobID: "job-2"}), p, counter, 0)

	assert.True(t, commit)
	assert.Equal(t, MaxAttempts, p.calls)
	got, err := mr.Get("kafka:attempts:job-2")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.True(t, mr.TTL("kafka:attempts:job-2") > 0)
}

func TestHandleMessage_AttemptsSurviveRedelivery(t *testing.T) {
	counter := NewMemoryAttemptCounter()
	_, _ = counter.Incr(context.Background(), "job-3")
	_, _ = counter.Incr(context.Background(), "job-3")
	p := &scriptedProcessor{failures: 10}

	assert.True(t, HandleMessage(context.Background(), encodeTask(t, tasks.IngestTask{JobID: "job-3"}), p, counter, 0))
	assert.Equal(t, 1, p.calls)
}

func TestHandleMessage_CounterFailureDoesNotCommit(t *testing.T) {
	p := &scriptedProcessor{failures: 1}
	assert.False(t, HandleMessage(context.Background(), encodeTask(t, tasks.IngestTask{JobID: "job-4"}), p, brokenCounter{}, 0))
	assert.Equal(t, 1, p.calls)
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	p := &scriptedProcessor{}
	assert.True(t, HandleMessage(context.Background(), []byte("{not json"), p, NewMemoryAttemptCounter(), 0))
	assert.Zero(t, p.calls)
}

func TestHandleMessage_AssignsMissingJobID(t *testing.T) {
	p := &scriptedProcessor{}
	require.True(t, HandleMessage(context.Background(), []byte(`{"title":"t","content":"c"}`), p, NewMemoryAttemptCounter(), 0))
	require.Len(t, p.seen, 1)
	assert.NotEmpty(t, p.seen[0].JobID)
}

func TestBrokerList(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokerList(" a:9092, ,b:9092 "))
	assert.Nil(t, brokerList(""))
}

func TestProduceWithoutInit(t *testing.T) {
	assert.ErrorIs(t, ProduceIngestTask(context.Background(), tasks.IngestTask{}), ErrProducerNotInitialized)
}

func TestConsume_RetriesSameMessageWhenCounterFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 10, Value: encodeTask(t, tasks.IngestTask{JobID: "job-a"})},
		{Offset: 11, Value: encodeTask(t, tasks.IngestTask{JobID: "job-b"})},
	}}
	p := &scriptedProcessor{failures: 1}
	counter := &flakyCounter{failures: 1, inner: NewMemoryAttemptCounter()}

	consume(ctx, r, p, counter, 0, time.Millisecond)

	assert.Equal(t, []string{"fetch:10", "commit:10", "fetch:11", "commit:11"}, r.events)
	require.Len(t, p.seen, 3)
	assert.Equal(t, "job-a", p.seen[0].JobID)
	assert.Equal(t, "job-a", p.seen[1].JobID)
	assert.Equal(t, "job-b", p.seen[2].JobID)
}

func TestConsume_StopsWithoutCommitWhenCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 3, Value: encodeTask(t, tasks.IngestTask{JobID: "job-c"})},
		{Offset: 4, Value: encodeTask(t, tasks.IngestTask{JobID: "job-d"})},
	}}
	p := &scriptedProcessor{failures: 100}
	counter := &flakyCounter{failures: 100, inner: NewMemoryAttemptCounter(), onIncr: func(call int) {
		if call == 3 {
			cancel()
		}
	}}

	consume(ctx, r, p, counter, 0, time.Millisecond)

	assert.Equal(t, []string{"fetch:3"}, r.events)
	assert.Equal(t, 3, p.calls)
}
