// Package runner executes enumerate and scrape operations on background
// goroutines, translating scraper progress into task stream events and
// terminal registry transitions.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kumocrawler/kumocrawler/internal/event"
	"github.com/kumocrawler/kumocrawler/internal/metrics"
	"github.com/kumocrawler/kumocrawler/internal/registry"
	"github.com/kumocrawler/kumocrawler/internal/scraper"
	"github.com/kumocrawler/kumocrawler/internal/stream"
)

// Runner owns the background execution of tasks. It never blocks its caller
// on scraper work; RunEnumerate and RunScrape return as soon as the goroutine
// is launched.
type Runner struct {
	registry *registry.Registry
	scraper  scraper.Scraper
	timeout  time.Duration
	logger   *zap.Logger
}

// New constructs a Runner. timeout bounds one whole task run; zero disables
// the bound.
func New(reg *registry.Registry, scr scraper.Scraper, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry: reg,
		scraper:  scr,
		timeout:  timeout,
		logger:   logger,
	}
}

// RunEnumerate starts the login-and-enumerate operation for the task on a
// background goroutine and returns immediately.
func (r *Runner) RunEnumerate(taskID string, creds scraper.Credentials) error {
	log, err := r.registry.Channel(taskID)
	if err != nil {
		return fmt.Errorf("resolve task %s: %w", taskID, err)
	}
	go r.runEnumerate(taskID, log, creds)
	return nil
}

// RunScrape validates the selection, then starts the scrape operation for the
// task on a background goroutine and returns immediately. An invalid
// selection fails fast and nothing is launched.
func (r *Runner) RunScrape(taskID string, creds scraper.Credentials, sel scraper.Selection) error {
	if err := sel.Validate(); err != nil {
		return fmt.Errorf("invalid selection: %w", err)
	}
	log, err := r.registry.Channel(taskID)
	if err != nil {
		return fmt.Errorf("resolve task %s: %w", taskID, err)
	}
	go r.runScrape(taskID, log, creds, sel)
	return nil
}

func (r *Runner) runEnumerate(taskID string, log *stream.Log, creds scraper.Credentials) {
	emit := emitter(log)
	defer r.recoverToFailure(taskID, emit)

	start := r.begin(taskID)
	ctx, cancel := r.taskContext()
	defer cancel()

	channels, err := r.scraper.Enumerate(ctx, creds, progressFunc(emit))
	if err != nil {
		r.fail(taskID, registry.KindEnumerate, emit, start,
			fmt.Sprintf("Enumeration failed: %v", err), "Process failed.")
		return
	}

	emit(event.Info(fmt.Sprintf("Successfully enumerated %d channels.", len(channels))))
	emit(event.ChannelList(channels))

	if err := r.registry.Complete(taskID, nil, "Enumeration complete."); err != nil {
		r.logger.Warn("complete enumerate task failed", zap.String("task_id", taskID), zap.Error(err))
	}
	metrics.TaskFinished(string(registry.KindEnumerate), string(registry.StatusCompleted), time.Since(start))
	r.logger.Info("enumeration finished",
		zap.String("task_id", taskID),
		zap.Int("channels", len(channels)),
	)
}

func (r *Runner) runScrape(taskID string, log *stream.Log, creds scraper.Credentials, sel scraper.Selection) {
	emit := emitter(log)
	defer r.recoverToFailure(taskID, emit)

	start := r.begin(taskID)
	ctx, cancel := r.taskContext()
	defer cancel()

	emit(event.Info(fmt.Sprintf("Starting scrape for %d channel(s)...", len(sel.Channels))))

	// All channel scrapes of one task run concurrently and narrate into the
	// same stream; the browser layer bounds real parallelism.
	exports := make([]*scraper.ChannelExport, len(sel.Channels))
	var g errgroup.Group
	for i, ch := range sel.Channels {
		emit(event.Info(fmt.Sprintf("Queueing scrape for: %s", ch.Name)))
		g.Go(func() error {
			// errgroup does not recover panics; a crashing scraper must cost
			// only this channel, not the process.
			defer func() {
				if rec := recover(); rec != nil {
					emit(event.Error(fmt.Sprintf("Scraping failed for %s: panic: %v", ch.Name, rec)))
					r.logger.Error("channel scrape panicked",
						zap.String("task_id", taskID),
						zap.String("channel", ch.Name),
						zap.Any("panic", rec),
					)
				}
			}()
			messages, err := r.scraper.ScrapeChannel(ctx, creds, ch, sel.Depth, progressFunc(emit))
			if err != nil {
				emit(event.Error(fmt.Sprintf("Scraping failed for %s: %v", ch.Name, err)))
				r.logger.Warn("channel scrape failed",
					zap.String("task_id", taskID),
					zap.String("channel", ch.Name),
					zap.Error(err),
				)
				return nil
			}
			emit(event.Success(fmt.Sprintf("Scraping finished for '%s'. Found %d messages.", ch.Name, len(messages))))
			exports[i] = &scraper.ChannelExport{ChannelName: ch.Name, Messages: messages}
			return nil
		})
	}
	_ = g.Wait()

	collected := make([]scraper.ChannelExport, 0, len(exports))
	for _, exp := range exports {
		if exp != nil {
			collected = append(collected, *exp)
		}
	}
	// Partial results are kept; the task only fails when no channel yielded
	// anything.
	if len(collected) == 0 {
		r.fail(taskID, registry.KindScrape, emit, start,
			"All channel scrapes failed; nothing to download.",
			fmt.Sprintf("Scraping failed for all %d channel(s).", len(sel.Channels)))
		return
	}

	artifact, err := scraper.BuildArtifact(taskID, collected)
	if err != nil {
		r.fail(taskID, registry.KindScrape, emit, start,
			fmt.Sprintf("Could not assemble results: %v", err), "Process failed.")
		return
	}

	emit(event.DownloadReady(taskID))
	emit(event.AllDone(taskID))

	if err := r.registry.Complete(taskID, &artifact, "All scraping tasks finished."); err != nil {
		r.logger.Warn("complete scrape task failed", zap.String("task_id", taskID), zap.Error(err))
	}
	metrics.TaskFinished(string(registry.KindScrape), string(registry.StatusCompleted), time.Since(start))
	r.logger.Info("scrape finished",
		zap.String("task_id", taskID),
		zap.Int("channels", len(collected)),
		zap.Int("bytes", len(artifact.Data)),
	)
}

func (r *Runner) begin(taskID string) time.Time {
	if err := r.registry.MarkRunning(taskID); err != nil {
		r.logger.Warn("mark task running failed", zap.String("task_id", taskID), zap.Error(err))
	}
	metrics.TaskStarted()
	return time.Now()
}

func (r *Runner) taskContext() (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Runner) fail(
	taskID string,
	kind registry.Kind,
	emit func(event.Event),
	start time.Time,
	cause string,
	note string,
) {
	emit(event.Error(cause))
	if err := r.registry.Fail(taskID, cause, note); err != nil {
		r.logger.Warn("fail task failed", zap.String("task_id", taskID), zap.Error(err))
	}
	metrics.TaskFinished(string(kind), string(registry.StatusFailed), time.Since(start))
	r.logger.Warn("task failed", zap.String("task_id", taskID), zap.String("cause", cause))
}

// recoverToFailure converts a scraper panic into an error event plus a failed
// task; a crash must never leave a task stuck in running.
func (r *Runner) recoverToFailure(taskID string, emit func(event.Event)) {
	rec := recover()
	if rec == nil {
		return
	}
	cause := fmt.Sprintf("Task crashed: %v", rec)
	emit(event.Error(cause))
	if err := r.registry.Fail(taskID, cause, "Process failed abruptly."); err != nil {
		r.logger.Warn("fail crashed task failed", zap.String("task_id", taskID), zap.Error(err))
	}
	r.logger.Error("task panicked", zap.String("task_id", taskID), zap.Any("panic", rec))
}

// emitter appends events to the log, counting successes and tolerating a log
// already closed by a racing terminal transition.
func emitter(log *stream.Log) func(event.Event) {
	return func(evt event.Event) {
		if err := log.Append(evt); err == nil {
			metrics.EventAppended(string(evt.Type))
		}
	}
}

// progressFunc adapts scraper progress callbacks onto stream events.
func progressFunc(emit func(event.Event)) scraper.ProgressFunc {
	return func(level scraper.ProgressLevel, msg string) {
		switch level {
		case scraper.ProgressWarn:
			emit(event.Warn(msg))
		case scraper.ProgressDev:
			emit(event.Dev(msg))
		case scraper.ProgressSuccess:
			emit(event.Success(msg))
		default:
			emit(event.Info(msg))
		}
	}
}
