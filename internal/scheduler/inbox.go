// Package scheduler picks up statement files dropped in an inbox directory
// and reconciles them on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fiat-reconciliation-backend/internal/models"
)

const (
	// SourceInbox marks batches created from the inbox.
	SourceInbox = "inbox"

	fileExt   = ".cfonb120"
	failedDir = "failed"
)

// Runner reconciles a statement file into a new batch.
type Runner interface {
	CreateBatch(ctx context.Context, filename, source string) (*models.ReconciliationBatch, error)
	Run(ctx context.Context, batch *models.ReconciliationBatch, content string) error
}

type Config struct {
	InboxDir   string
	ArchiveDir string
	Schedule   string
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger
	config Config
}

func NewScheduler(runner Runner, logger *zap.Logger, cfg Config) *Scheduler {
	cl := cronLogger{logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	return &Scheduler{
		cron:   c,
		runner: runner,
		logger: logger,
		config: cfg,
	}
}

// Start registers the inbox scan and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		if _, err := s.ScanInbox(context.Background()); err != nil {
			s.logger.Error("Inbox scan failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule inbox scan %q: %w", s.config.Schedule, err)
	}
	s.logger.Info("Scheduled inbox scan",
		zap.String("schedule", s.config.Schedule),
		zap.String("inbox", s.config.InboxDir))

	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// scan has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// ScanInbox reconciles every statement file of the inbox in name order and
// returns how many it processed. Processed files go to the archive, files
// that failed to reconcile to its failed subdirectory.
func (s *Scheduler) ScanInbox(ctx context.Context) (int, error) {
	files, err := s.pending()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Join(s.config.ArchiveDir, failedDir), 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	processed := 0
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := s.process(ctx, name); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (s *Scheduler) pending() ([]string, error) {
	entries, err := os.ReadDir(s.config.InboxDir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), fileExt) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// process returns an error only when the file could not be moved out of the
// inbox: a rejected statement is recorded on its batch.
func (s *Scheduler) process(ctx context.Context, name string) error {
	logger := s.logger.With(zap.String("file", name))
	src := filepath.Join(s.config.InboxDir, name)

	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	dest := filepath.Join(s.config.ArchiveDir, name)
	batch, err := s.runner.CreateBatch(ctx, name, SourceInbox)
	if err != nil {
		// leave the file for the next scan
		logger.Error("Failed to create batch", zap.Error(err))
		return fmt.Errorf("create batch for %s: %w", name, err)
	}
	if err := s.runner.Run(ctx, batch, string(content)); err != nil {
		logger.Warn("Statement file not reconciled",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err))
		dest = filepath.Join(s.config.ArchiveDir, failedDir, name)
	}

	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	logger.Info("Statement file archived",
		zap.String("batch_id", batch.ID.String()),
		zap.String("to", dest))
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
