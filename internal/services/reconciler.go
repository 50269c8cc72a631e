package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"expensesync/internal/assets"
	"expensesync/internal/blob"
	"expensesync/internal/log"

	"github.com/robfig/cron/v3"
)

// ImageReferences reports every image URL an expense points at.
type ImageReferences interface {
	ListImageURLs(ctx context.Context) (map[string]struct{}, error)
}

// ReconcilerConfig holds configuration for the orphan reconciler
type ReconcilerConfig struct {
	// Schedule is a cron expression or descriptor (default: @hourly)
	Schedule string

	// GracePeriod is how old an unreferenced image must be before it is an
	// orphan (default: 24h). It covers uploads whose expense is still being
	// created.
	GracePeriod time.Duration

	// Delete removes orphans instead of only reporting them (default: false)
	Delete bool

	// RunTimeout bounds one scheduled pass (default: 10m)
	RunTimeout time.Duration
}

// DefaultReconcilerConfig returns sensible defaults
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Schedule:    "@hourly",
		GracePeriod: 24 * time.Hour,
		Delete:      false,
		RunTimeout:  10 * time.Minute,
	}
}

// ReconcileReport summarizes one pass.
type ReconcileReport struct {
	Scanned    int
	Referenced int
	// Attachments are comment images. They are never orphans.
	Attachments int
	Orphans     int
	Deleted     int
	OrphanKeys  []string
}

// Reconciler finds receipt images that no expense references, which is what
// a failed second phase of Submit leaves behind.
type Reconciler struct {
	blobs  blob.Store
	refs   ImageReferences
	config ReconcilerConfig
	now    func() time.Time
	logger *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

func NewReconciler(blobs blob.Store, refs ImageReferences, config ReconcilerConfig, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Discard()
	}
	def := DefaultReconcilerConfig()
	if config.Schedule == "" {
		config.Schedule = def.Schedule
	}
	if config.GracePeriod < 0 {
		config.GracePeriod = 0
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = def.RunTimeout
	}
	return &Reconciler{
		blobs:  blobs,
		refs:   refs,
		config: config,
		now:    time.Now,
		logger: logger.WithComponent(log.ComponentReconciler),
	}
}

// Run performs one pass. Blobs are listed before references are read, so an
// image whose expense lands in between is seen as referenced.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	start := time.Now()

	objects, err := r.blobs.List(ctx, "")
	if err != nil {
		return report, fmt.Errorf("list images: %w", err)
	}
	refs, err := r.refs.ListImageURLs(ctx)
	if err != nil {
		return report, fmt.Errorf("list image references: %w", err)
	}

	now := r.now()
	var errs []error
	for _, obj := range objects {
		report.Scanned++
		if assets.IsAttachment(obj.Key) {
			report.Attachments++
			continue
		}
		if _, ok := refs[r.blobs.URL(obj.Key)]; ok {
			report.Referenced++
			continue
		}
		// Age unknown: never treat as an orphan.
		if obj.Created.IsZero() || now.Sub(obj.Created) < r.config.GracePeriod {
			continue
		}

		report.Orphans++
		report.OrphanKeys = append(report.OrphanKeys, obj.Key)
		if !r.config.Delete {
			continue
		}

		if err := r.blobs.Delete(ctx, obj.Key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			r.logger.ErrorContext(ctx, "Failed to delete orphaned image",
				log.FieldAssetKey, obj.Key,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Key, err))
			continue
		}
		report.Deleted++
	}

	r.logger.InfoContext(ctx, "Orphan scan finished",
		log.FieldOperation, log.OpReconcile,
		"scanned", report.Scanned,
		"referenced", report.Referenced,
		"attachments", report.Attachments,
		"orphans", report.Orphans,
		"deleted", report.Deleted,
		"delete_enabled", r.config.Delete,
		log.FieldDuration, time.Since(start).Milliseconds())

	return report, errors.Join(errs...)
}

// Start schedules Run on the configured cron schedule. Returns an error if
// already running or the schedule does not parse.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reconciler is already running")
	}

	logger := cronLogger{r.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(r.config.Schedule, func() { r.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", r.config.Schedule, err)
	}
	c.Start()

	r.cron = c
	r.running = true
	r.logger.InfoContext(ctx, "Reconciler started",
		"schedule", r.config.Schedule,
		"grace_period", r.config.GracePeriod,
		"delete_enabled", r.config.Delete)
	return nil
}

func (r *Reconciler) runScheduled(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.config.RunTimeout)
	defer cancel()
	if _, err := r.Run(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Orphan scan failed",
			log.FieldOperation, log.OpReconcile,
			log.FieldError, err)
	}
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.running = false
	r.cron = nil
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
		r.logger.InfoContext(ctx, "Reconciler stopped gracefully")
		return nil
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Reconciler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the schedule is active
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// cronLogger routes cron's own messages to the component logger.
type cronLogger struct{ l *log.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, log.FieldError, err)...)
}
