package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs progress of row-by-row operations such as policy
// imports and non-atomic audit writes.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting operation")

	return tracker
}

// Increment records one processed item
func (p *ProgressTracker) Increment() {
	p.advance(false)
}

// Fail records one item that could not be processed
func (p *ProgressTracker) Fail() {
	p.advance(true)
}

func (p *ProgressTracker) advance(failed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	if failed {
		p.failed++
	}

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs final statistics
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry := p.logger.WithFields(p.fields(time.Now()))
	if p.failed > 0 {
		entry.Warn("Operation completed with failures")
		return
	}
	entry.Info("Operation completed")
}

// GetStats returns current progress statistics
func (p *ProgressTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	stats := ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Failed:    p.failed,
		Duration:  duration,
	}
	if p.total > 0 {
		stats.Percentage = float64(p.current) / float64(p.total) * 100
	}
	return stats
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	duration := now.Sub(p.startTime)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"failed":    p.failed,
		"duration":  duration.String(),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string        `json:"operation"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Failed     int64         `json:"failed"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
}

// String returns a human-readable representation of the progress
func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%), %d failed, elapsed %v",
			ps.Operation, ps.Current, ps.Total, ps.Percentage, ps.Failed, ps.Duration)
	}
	return fmt.Sprintf("%s: %d processed, %d failed, elapsed %v",
		ps.Operation, ps.Current, ps.Failed, ps.Duration)
}

// OperationLogger provides structured logging for one operation with timing
type OperationLogger struct {
	logger    Logger
	operation string
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger.WithField("operation", operation),
		operation: operation,
		startTime: time.Now(),
	}
	ol.logger.Debug("Starting operation")
	return ol
}

// WithFields adds fields to every later line of the operation
func (ol *OperationLogger) WithFields(fields Fields) *OperationLogger {
	ol.logger = ol.logger.WithFields(fields)
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithField("step", step).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}

// TimedOperation executes fn and logs its outcome
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}

	ol.Success("Operation completed")
	return nil
}
