package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"testing"
	"time"

	"github.com/framegrid/framegrid-sampling-service/internal/domain/entity"
	"github.com/framegrid/framegrid-sampling-service/internal/domain/port"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (r *fakeRepo) Create(_ context.Context, job *entity.Job) error {
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeRepo) Update(_ context.Context, job *entity.Job) error {
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

type fakeStorage struct {
	downloadErr  error
	uploadedKey  string
	uploadedSize int64
}

func (s *fakeStorage) DownloadVideo(_ context.Context, _ string, destPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	return os.WriteFile(destPath, []byte("video bytes"), 0644)
}

func (s *fakeStorage) UploadArchive(_ context.Context, objectKey string, _ io.Reader, size int64) error {
	s.uploadedKey = objectKey
	s.uploadedSize = size
	return nil
}

type fakeSource struct {
	frames  []*port.SampledFrame
	failAt  int // frame index whose Next errors, -1 for never
	idx     int
	meta    port.VideoMeta
	closed  bool
	termErr error
}

func (f *fakeSource) Next(context.Context) (*port.SampledFrame, error) {
	if f.termErr != nil {
		return nil, f.termErr
	}
	if f.failAt >= 0 && f.idx == f.failAt {
		f.termErr = errors.New("decode frame at 120s: corrupt segment")
		return nil, f.termErr
	}
	if f.idx >= len(f.frames) {
		return nil, nil
	}
	frame := f.frames[f.idx]
	f.idx++
	return frame, nil
}

func (f *fakeSource) Meta() port.VideoMeta { return f.meta }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeFactory struct {
	source       *fakeSource
	openErr      error
	gotInterval  time.Duration
	gotVideoPath string
}

func (f *fakeFactory) Open(_ context.Context, videoPath string, interval time.Duration) (port.FrameSource, error) {
	f.gotVideoPath = videoPath
	f.gotInterval = interval
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.source, nil
}

type fakeArchiver struct {
	archived []string
}

func (a *fakeArchiver) CreateArchive(_ context.Context, filePaths []string, outputPath string) error {
	a.archived = filePaths
	return os.WriteFile(outputPath, []byte("zip bytes"), 0644)
}

type fakePublisher struct {
	statuses []entity.SamplingStatusMessage
}

func (p *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	var status entity.SamplingStatusMessage
	if err := json.Unmarshal(msg, &status); err != nil {
		return err
	}
	p.statuses = append(p.statuses, status)
	return nil
}

type fakeDLQ struct {
	reasons []string
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakeNotifier struct {
	notified []string
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, userEmail, _, _, _ string) error {
	n.notified = append(n.notified, userEmail)
	return nil
}

type harness struct {
	uc       *SampleVideoUseCase
	repo     *fakeRepo
	storage  *fakeStorage
	factory  *fakeFactory
	archiver *fakeArchiver
	pub      *fakePublisher
	dlq      *fakeDLQ
	notifier *fakeNotifier
}

func testFrame(offset time.Duration) *port.SampledFrame {
	return &port.SampledFrame{
		TimeOffset: offset,
		Image:      image.NewRGBA(image.Rect(0, 0, 4, 2)),
	}
}

func newHarness(t *testing.T, source *fakeSource) *harness {
	t.Helper()
	h := &harness{
		repo:     newFakeRepo(),
		storage:  &fakeStorage{},
		factory:  &fakeFactory{source: source},
		archiver: &fakeArchiver{},
		pub:      &fakePublisher{},
		dlq:      &fakeDLQ{},
		notifier: &fakeNotifier{},
	}
	h.uc = NewSampleVideoUseCase(
		h.repo, h.storage, h.factory, h.archiver,
		h.pub, h.dlq, h.notifier,
		zap.NewNop(),
		SampleVideoConfig{
			TempDir:         t.TempDir(),
			MaxRetries:      3,
			DefaultInterval: time.Second,
		},
	)
	return h
}

func requestBody(t *testing.T, msg entity.SamplingRequestMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestExecuteCompletesJob(t *testing.T) {
	source := &fakeSource{
		frames: []*port.SampledFrame{
			testFrame(0),
			testFrame(120 * time.Second),
			testFrame(240 * time.Second),
		},
		failAt: -1,
		meta:   port.VideoMeta{Duration: 300 * time.Second, Width: 4, Height: 2, FrameRate: 30},
	}
	h := newHarness(t, source)

	jobID := uuid.New()
	body := requestBody(t, entity.SamplingRequestMessage{
		JobID:      jobID,
		UserID:     "user-1",
		VideoKey:   "user-1/input.mp4",
		FileSize:   1 << 20,
		IntervalMs: 120_000,
	})

	require.NoError(t, h.uc.Execute(context.Background(), body))

	assert.Equal(t, 120*time.Second, h.factory.gotInterval)
	assert.Len(t, h.archiver.archived, 3)
	assert.True(t, source.closed)

	job := h.repo.jobs[jobID]
	require.NotNil(t, job)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.FrameCount)
	assert.InDelta(t, 300.0, job.VideoDuration, 1e-9)
	assert.Equal(t, fmt.Sprintf("user-1/frames_%s.zip", jobID), job.ArchiveKey)
	assert.Equal(t, job.ArchiveKey, h.storage.uploadedKey)

	require.Len(t, h.pub.statuses, 1)
	assert.Equal(t, entity.JobStatusCompleted, h.pub.statuses[0].Status)
	assert.Equal(t, 3, h.pub.statuses[0].FrameCount)
	assert.Empty(t, h.dlq.reasons)
}

func TestExecuteUsesDefaultIntervalWhenUnset(t *testing.T) {
	source := &fakeSource{
		frames: []*port.SampledFrame{testFrame(0)},
		failAt: -1,
		meta:   port.VideoMeta{Duration: time.Second, Width: 4, Height: 2},
	}
	h := newHarness(t, source)

	body := requestBody(t, entity.SamplingRequestMessage{
		JobID:    uuid.New(),
		UserID:   "user-1",
		VideoKey: "user-1/input.mp4",
	})

	require.NoError(t, h.uc.Execute(context.Background(), body))
	assert.Equal(t, time.Second, h.factory.gotInterval)
}

func TestExecuteDecodeFailureIsRetryable(t *testing.T) {
	source := &fakeSource{
		frames: []*port.SampledFrame{testFrame(0), testFrame(120 * time.Second)},
		failAt: 1,
		meta:   port.VideoMeta{Duration: 300 * time.Second, Width: 4, Height: 2},
	}
	h := newHarness(t, source)

	jobID := uuid.New()
	body := requestBody(t, entity.SamplingRequestMessage{
		JobID:    jobID,
		UserID:   "user-1",
		VideoKey: "user-1/input.mp4",
	})

	err := h.uc.Execute(context.Background(), body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_frames")

	job := h.repo.jobs[jobID]
	require.NotNil(t, job)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.True(t, source.closed)
	assert.Empty(t, h.dlq.reasons, "first failure must not go to DLQ")
}

func TestExecuteMalformedMessageGoesToDLQ(t *testing.T) {
	h := newHarness(t, &fakeSource{failAt: -1})

	err := h.uc.Execute(context.Background(), []byte(`{invalid json`))

	require.NoError(t, err, "malformed messages are not retried")
	require.Len(t, h.dlq.reasons, 1)
	assert.Contains(t, h.dlq.reasons[0], "unmarshal_error")
}

func TestExecuteExhaustedRetriesPermanentFailure(t *testing.T) {
	source := &fakeSource{failAt: -1}
	h := newHarness(t, source)

	jobID := uuid.New()
	job := entity.NewJob("user-1", "user-1/input.mp4", 0, time.Second, 3)
	job.ID = jobID
	job.Attempt = 3
	h.repo.jobs[jobID] = job

	body := requestBody(t, entity.SamplingRequestMessage{
		JobID:     jobID,
		UserID:    "user-1",
		VideoKey:  "user-1/input.mp4",
		UserEmail: "user@example.com",
	})

	require.NoError(t, h.uc.Execute(context.Background(), body))

	assert.Equal(t, entity.JobStatusFailed, h.repo.jobs[jobID].Status)
	require.Len(t, h.dlq.reasons, 1)
	assert.Contains(t, h.dlq.reasons[0], "max retries exceeded")
	assert.Equal(t, []string{"user@example.com"}, h.notifier.notified)
}

func TestExecuteOpenFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.factory.openErr = errors.New("open /tmp/input.mp4: no single primary video stream")

	jobID := uuid.New()
	body := requestBody(t, entity.SamplingRequestMessage{
		JobID:    jobID,
		UserID:   "user-1",
		VideoKey: "user-1/input.mp4",
	})

	err := h.uc.Execute(context.Background(), body)
	require.Error(t, err)
	assert.Equal(t, entity.JobStatusFailed, h.repo.jobs[jobID].Status)
}
