package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/framegrid/framegrid-sampling-service/internal/domain/entity"
	"github.com/framegrid/framegrid-sampling-service/internal/domain/port"
	"github.com/framegrid/framegrid-sampling-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SampleVideoUseCase drives one sampling job end to end: download the source
// video, pull frames at the configured interval, archive them and upload the
// result.
type SampleVideoUseCase struct {
	repo            port.JobRepository
	storage         port.VideoStorage
	samplers        port.SamplerFactory
	archiver        port.Archiver
	publisher       port.StatusPublisher
	dlq             port.DLQPublisher
	notifier        port.FailureNotifier
	logger          *zap.Logger
	tempDir         string
	maxRetry        int
	defaultInterval time.Duration
}

type SampleVideoConfig struct {
	TempDir         string
	MaxRetries      int
	DefaultInterval time.Duration
}

func NewSampleVideoUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	samplers port.SamplerFactory,
	archiver port.Archiver,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg SampleVideoConfig,
) *SampleVideoUseCase {
	return &SampleVideoUseCase{
		repo:            repo,
		storage:         storage,
		samplers:        samplers,
		archiver:        archiver,
		publisher:       publisher,
		dlq:             dlq,
		notifier:        notifier,
		logger:          logger,
		tempDir:         cfg.TempDir,
		maxRetry:        cfg.MaxRetries,
		defaultInterval: cfg.DefaultInterval,
	}
}

func (uc *SampleVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "SampleVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.SamplingRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	interval := uc.defaultInterval
	if msg.IntervalMs > 0 {
		interval = time.Duration(msg.IntervalMs) * time.Millisecond
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
		attribute.Int64("job.interval_ms", interval.Milliseconds()),
	)

	log := uc.logger.With(
		zap.String("job_id", msg.JobID.String()),
		zap.String("video_key", msg.VideoKey),
		zap.Duration("interval", interval),
	)

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, interval, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.samplePipeline(ctx, job, msg, rawMsg, interval, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *SampleVideoUseCase) samplePipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.SamplingRequestMessage,
	rawMsg []byte,
	interval time.Duration,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download the source video
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input.mp4")
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Sample frames at the configured interval
	smStart := time.Now()
	ctx3, spanSm := tracer.Start(ctx, "sample_frames")
	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		spanSm.End()
		return fmt.Errorf("create frames dir: %w", err)
	}
	framePaths, videoDuration, err := uc.sampleFrames(ctx3, videoPath, framesDir, interval, log)
	if err != nil {
		spanSm.End()
		log.Error("frame sampling failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "sample_frames: "+err.Error(), log)
	}
	spanSm.End()
	metrics.JobDuration.WithLabelValues("sample").Observe(time.Since(smStart).Seconds())
	metrics.FramesSampledTotal.Add(float64(len(framePaths)))

	// Archive the frames
	arStart := time.Now()
	ctx4, spanAr := tracer.Start(ctx, "create_archive")
	archivePath := filepath.Join(workDir, "frames.zip")
	if err := uc.archiver.CreateArchive(ctx4, framePaths, archivePath); err != nil {
		spanAr.End()
		log.Error("archive creation failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "create_archive: "+err.Error(), log)
	}
	spanAr.End()
	metrics.JobDuration.WithLabelValues("archive").Observe(time.Since(arStart).Seconds())

	// Upload the archive
	upStart := time.Now()
	ctx5, spanUp := tracer.Start(ctx, "upload_archive")
	archiveKey := fmt.Sprintf("%s/frames_%s.zip", msg.UserID, job.ID.String())
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_archive: "+err.Error(), log)
	}
	archiveStat, _ := archiveFile.Stat()
	if err := uc.storage.UploadArchive(ctx5, archiveKey, archiveFile, archiveStat.Size()); err != nil {
		archiveFile.Close()
		spanUp.End()
		log.Error("archive upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_archive: "+err.Error(), log)
	}
	archiveFile.Close()
	spanUp.End()
	metrics.JobDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	// Mark completed
	job.SamplingInterval = interval
	job.MarkCompleted(archiveKey, len(framePaths), videoDuration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job completed successfully",
		zap.Int("frame_count", len(framePaths)),
		zap.Float64("duration_secs", videoDuration),
		zap.String("archive_key", archiveKey),
	)

	return nil
}

// sampleFrames pulls the whole frame sequence and writes each frame as a PNG
// named by its millisecond offset, preserving the sampling order.
func (uc *SampleVideoUseCase) sampleFrames(
	ctx context.Context,
	videoPath string,
	framesDir string,
	interval time.Duration,
	log *zap.Logger,
) ([]string, float64, error) {
	src, err := uc.samplers.Open(ctx, videoPath, interval)
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	meta := src.Meta()
	log.Info("sampler opened",
		zap.Duration("video_duration", meta.Duration),
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
	)

	var framePaths []string
	for {
		frame, err := src.Next(ctx)
		if err != nil {
			metrics.DecodeFailuresTotal.Inc()
			return nil, 0, err
		}
		if frame == nil {
			break
		}

		framePath := filepath.Join(framesDir, fmt.Sprintf("frame_%08dms.png", frame.TimeOffset.Milliseconds()))
		if err := writePNG(framePath, frame.Image); err != nil {
			return nil, 0, fmt.Errorf("write frame at %s: %w", frame.TimeOffset, err)
		}
		framePaths = append(framePaths, framePath)
	}

	if len(framePaths) == 0 {
		return nil, 0, fmt.Errorf("no frames sampled from video")
	}
	return framePaths, meta.Duration.Seconds(), nil
}

func writePNG(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (uc *SampleVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.SamplingRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *SampleVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.SamplingRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *SampleVideoUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.SamplingStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		VideoKey:     job.VideoKey,
		ArchiveKey:   job.ArchiveKey,
		FrameCount:   job.FrameCount,
		IntervalMs:   job.SamplingInterval.Milliseconds(),
		Duration:     job.VideoDuration,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
