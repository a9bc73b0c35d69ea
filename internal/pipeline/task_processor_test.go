package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vera-go/internal/model"
	"vera-go/pkg/tasks"
)

type fakeObjects struct {
	content string
	err     error
	paths   []string
}

func (f *fakeObjects) Download(_ context.Context, _ string, filePath string) error {
	f.paths = append(f.paths, filePath)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filePath, []byte(f.content), 0o644)
}

type fakeJobs struct {
	status  map[string]string
	vectors map[string]int
	errors  map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{status: map[string]string{}, vectors: map[string]int{}, errors: map[string]string{}}
}

func (f *fakeJobs) MarkRunning(id string) error {
	f.status[id] = model.JobStatusRunning
	return nil
}

func (f *fakeJobs) MarkSucceeded(id string, _ int, vectors int) error {
	f.status[id] = model.JobStatusSucceeded
	f.vectors[id] = vectors
	return nil
}

func (f *fakeJobs) MarkFailed(id string, cause error) error {
	f.status[id] = model.JobStatusFailed
	f.errors[id] = cause.Error()
	return nil
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTaskProcessorIngestsStagedObject(t *testing.T) {
	h := newHarness(t, &fakeExtractor{}, 8, Options{})
	objects := &fakeObjects{content: clauseText(50)}
	jobs := newFakeJobs()
	staging := t.TempDir()
	tp := NewTaskProcessor(h.processor, objects, jobs, staging)

	err := tp.Process(context.Background(), tasks.IngestTask{JobID: "j1", ObjectName: "sources/j1/lease.pdf", FileName: "lease.pdf", Domain: "general"})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusSucceeded, jobs.status["j1"])
	assert.Equal(t, 3, jobs.vectors["j1"])
	require.Len(t, objects.paths, 1)
	assert.Equal(t, ".pdf", objects.paths[0][len(objects.paths[0])-4:])
	assertDirEmpty(t, staging)

	records, err := h.ledger.Load()
	require.NoError(t, err)
	assert.Equal(t, "lease.pdf", records[0].Source)
}

func TestTaskProcessorValidationFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, &fakeExtractor{}, 8, Options{})
	objects := &fakeObjects{content: "   "}
	jobs := newFakeJobs()
	staging := t.TempDir()
	tp := NewTaskProcessor(h.processor, objects, jobs, staging)

	err := tp.Process(context.Background(), tasks.IngestTask{JobID: "j2", ObjectName: "o", FileName: "empty.txt"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, jobs.status["j2"])
	assert.Contains(t, jobs.errors["j2"], "no textual content")
	assertDirEmpty(t, staging)
}

func TestTaskProcessorDownloadFailureIsRetried(t *testing.T) {
	h := newHarness(t, &fakeExtractor{}, 8, Options{})
	objects := &fakeObjects{err: errors.New("minio unavailable")}
	jobs := newFakeJobs()
	staging := t.TempDir()
	tp := NewTaskProcessor(h.processor, objects, jobs, staging)

	err := tp.Process(context.Background(), tasks.IngestTask{JobID: "j3", ObjectName: "o", FileName: "a.pdf"})
	require.ErrorIs(t, err, ErrIngestion)
	assert.Equal(t, model.JobStatusFailed, jobs.status["j3"])
	assertDirEmpty(t, staging)
}

func TestTaskProcessorURLTask(t *testing.T) {
	h := newHarness(t, &fakeExtractor{text: clauseText(10)}, 8, Options{})
	jobs := newFakeJobs()
	tp := NewTaskProcessor(h.processor, &fakeObjects{}, jobs, "")

	require.NoError(t, tp.Process(context.Background(), tasks.IngestTask{JobID: "j4", URL: "https://example.com", Domain: "tax"}))
	assert.Equal(t, model.JobStatusSucceeded, jobs.status["j4"])
}
