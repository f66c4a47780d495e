package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loonie/internal/core"
	"loonie/internal/log"
)

// PIIEraser is the slice of the repository the retention sweep needs.
type PIIEraser interface {
	EraseExpiredPII(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionProcessorConfig holds configuration for the retention sweep
type RetentionProcessorConfig struct {
	// SweepInterval is how often the sweep runs (default: 1h)
	SweepInterval time.Duration

	// RetentionWindow is how long soft-deleted PII survives before erasure.
	// Never configured below the 30-day compliance floor.
	RetentionWindow time.Duration
}

// DefaultRetentionProcessorConfig returns sensible defaults
func DefaultRetentionProcessorConfig() RetentionProcessorConfig {
	return RetentionProcessorConfig{
		SweepInterval:   time.Hour,
		RetentionWindow: core.RetentionWindow,
	}
}

// RetentionProcessor periodically erases PII records whose deletion grace
// period has elapsed. The sweep is idempotent: it only ever touches rows
// already soft-deleted and past the window, so overlapping or repeated runs
// are harmless.
type RetentionProcessor struct {
	eraser PIIEraser
	config RetentionProcessorConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRetentionProcessor(eraser PIIEraser, config RetentionProcessorConfig, logger *log.Logger) *RetentionProcessor {
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Hour
	}
	if config.RetentionWindow < core.RetentionWindow {
		config.RetentionWindow = core.RetentionWindow
	}
	return &RetentionProcessor{
		eraser: eraser,
		config: config,
		logger: logger,
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *RetentionProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("retention processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Retention processor started",
		"sweep_interval", p.config.SweepInterval,
		"retention_window", p.config.RetentionWindow)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RetentionProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Retention processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Retention processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *RetentionProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RetentionProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	// Sweep immediately on startup
	p.Sweep(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one erasure pass. The cutoff guard lives inside the DELETE, so
// a sweep can never erase a record still inside its grace period.
func (p *RetentionProcessor) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.config.RetentionWindow)

	erased, err := p.eraser.EraseExpiredPII(ctx, cutoff)
	if err != nil {
		p.logger.ErrorContext(ctx, "Retention sweep failed", log.FieldError, err.Error())
		return
	}
	if erased > 0 {
		p.logger.InfoContext(ctx, "Retention sweep erased expired records", "erased", erased)
	}
}
