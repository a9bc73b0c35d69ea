package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vera-go/pkg/tasks"
)

// stubProcessor 对每个 JobID 先失败 failures[JobID] 次；always 非空时总是失败。
type stubProcessor struct {
	always   error
	failures map[string]int
	calls    map[string]int
	tasks    []tasks.IngestTask
}

func newStubProcessor(failures map[string]int) *stubProcessor {
	return &stubProcessor{failures: failures, calls: map[string]int{}}
}

func (s *stubProcessor) Process(_ context.Context, task tasks.IngestTask) error {
	s.tasks = append(s.tasks, task)
	s.calls[task.JobID]++
	if s.always != nil {
		return s.always
	}
	if s.calls[task.JobID] <= s.failures[task.JobID] {
		return fmt.Errorf("transient failure %d", s.calls[task.JobID])
	}
	return nil
}

type memCounter struct {
	counts map[string]int64
	err    error
}

func (c *memCounter) Incr(_ context.Context, id string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[id]++
	return c.counts[id], nil
}

func (c *memCounter) Reset(_ context.Context, id string) error {
	delete(c.counts, id)
	return nil
}

func message(t *testing.T, task tasks.IngestTask) kafka.Message {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestHandleMessageSuccessCommitsAndResets(t *testing.T) {
	p := newStubProcessor(nil)
	c := &memCounter{counts: map[string]int64{"job-1": 2}}

	commit := handleMessage(context.Background(), message(t, tasks.IngestTask{JobID: "job-1", FileName: "lease.pdf"}), p, c, 0)
	assert.True(t, commit)
	require.Len(t, p.tasks, 1)
	assert.Equal(t, "lease.pdf", p.tasks[0].Source())
	assert.NotContains(t, c.counts, "job-1")
}

func TestHandleMessageRetriesThenCommitsAfterThreeFailures(t *testing.T) {
	p := newStubProcessor(nil)
	p.always = errors.New("qdrant down")
	c := &memCounter{counts: map[string]int64{}}

	assert.True(t, handleMessage(context.Background(), message(t, tasks.IngestTask{JobID: "job-2"}), p, c, 0))
	assert.Equal(t, maxAttempts, p.calls["job-2"])
	assert.NotContains(t, c.counts, "job-2")
}

func TestHandleMessageContinuesCountFromEarlierRun(t *testing.T) {
	p := newStubProcessor(nil)
	p.always = errors.New("qdrant down")
	c := &memCounter{counts: map[string]int64{"job-2": 2}}

	assert.True(t, handleMessage(context.Background(), message(t, tasks.IngestTask{JobID: "job-2"}), p, c, 0))
	assert.Equal(t, 1, p.calls["job-2"])
}

func TestHandleMessageCounterFailureFallsBackToLocalCount(t *testing.T) {
	p := newStubProcessor(nil)
	p.always = errors.New("boom")
	c := &memCounter{err: errors.New("redis down")}

	assert.True(t, handleMessage(context.Background(), message(t, tasks.IngestTask{JobID: "job-3"}), p, c, 0))
	assert.Equal(t, maxAttempts, p.calls["job-3"])
}

func TestHandleMessageCancelledDuringBackoffDoesNotCommit(t *testing.T) {
	p := newStubProcessor(map[string]int{"job-4": 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, handleMessage(ctx, message(t, tasks.IngestTask{JobID: "job-4"}), p, &memCounter{counts: map[string]int64{}}, time.Hour))
	assert.Equal(t, 1, p.calls["job-4"])
}

func TestHandleMessageMalformedIsCommitted(t *testing.T) {
	p := newStubProcessor(nil)
	assert.True(t, handleMessage(context.Background(), kafka.Message{Value: []byte("{bad")}, p, &memCounter{counts: map[string]int64{}}, 0))
	assert.Empty(t, p.tasks)
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestConsumeStopsOnCancelAndCloses(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{message(t, tasks.IngestTask{JobID: "a"}), message(t, tasks.IngestTask{JobID: "b"})}}
	consume(context.Background(), r, newStubProcessor(nil), &memCounter{counts: map[string]int64{}}, 0)

	assert.Len(t, r.committed, 2)
	assert.True(t, r.closed)
}

func TestConsumeRetriesFailedTaskBeforeMovingOn(t *testing.T) {
	flaky := message(t, tasks.IngestTask{JobID: "flaky"})
	next := message(t, tasks.IngestTask{JobID: "next"})
	r := &fakeReader{msgs: []kafka.Message{flaky, next}}
	p := newStubProcessor(map[string]int{"flaky": 1})
	c := &memCounter{counts: map[string]int64{}}

	consume(context.Background(), r, p, c, 0)

	assert.Equal(t, map[string]int{"flaky": 2, "next": 1}, p.calls)
	assert.Equal(t, []string{"flaky", "flaky", "next"}, jobIDs(p.tasks))
	require.Len(t, r.committed, 2)
	assert.Equal(t, flaky.Value, r.committed[0].Value)
	assert.Empty(t, c.counts)
}

func jobIDs(ts []tasks.IngestTask) []string {
	out := make([]string, len(ts))
	for i, task := range ts {
		out[i] = task.JobID
	}
	return out
}
