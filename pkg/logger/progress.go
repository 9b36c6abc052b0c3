package logger

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StageConfig configures a StageTracker
type StageConfig struct {
	Operation string
	Stages    []string
	Logger    Logger
	// Output receives a one-line "[n/total] stage" status per stage when set.
	Output io.Writer
}

// StageTracker follows a fixed sequence of named stages through a run
type StageTracker struct {
	logger     Logger
	operation  string
	stages     []string
	output     io.Writer
	current    int
	stageName  string
	startTime  time.Time
	stageStart time.Time
	timings    map[string]time.Duration
	mutex      sync.Mutex
}

// NewStageTracker creates a tracker; it does not log until the first stage begins
func NewStageTracker(config StageConfig) *StageTracker {
	now := time.Now()
	return &StageTracker{
		logger:     OrGlobal(config.Logger).WithComponent("progress"),
		operation:  config.Operation,
		stages:     config.Stages,
		output:     config.Output,
		startTime:  now,
		stageStart: now,
		timings:    make(map[string]time.Duration),
	}
}

// Begin marks the start of a stage
func (p *StageTracker) Begin(stage string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	p.stageName = stage
	p.stageStart = time.Now()

	if p.output != nil {
		fmt.Fprintf(p.output, "[%d/%d] %s\n", p.current, len(p.stages), stage)
	}
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"stage":     stage,
		"step":      fmt.Sprintf("%d/%d", p.current, len(p.stages)),
	}).Debug("Stage started")
}

// Done marks the end of the current stage with the number of rows it produced
func (p *StageTracker) Done(rows int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	elapsed := time.Since(p.stageStart)
	p.timings[p.stageName] = elapsed

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"stage":     p.stageName,
		"rows":      rows,
		"duration":  elapsed.String(),
	}).Debug("Stage finished")
}

// Complete logs the total duration of the run
func (p *StageTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"stages":    p.current,
		"duration":  time.Since(p.startTime).String(),
	}).Info("Operation completed")
}

// CompleteWithError logs the stage the run failed in
func (p *StageTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithError(err).WithFields(Fields{
		"operation": p.operation,
		"stage":     p.stageName,
		"duration":  time.Since(p.startTime).String(),
	}).Error("Operation completed with error")
}

// GetStats returns a snapshot of the tracker
func (p *StageTracker) GetStats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	timings := make(map[string]time.Duration, len(p.timings))
	for k, v := range p.timings {
		timings[k] = v
	}

	var percentage float64
	if len(p.stages) > 0 {
		percentage = float64(p.current) / float64(len(p.stages)) * 100
	}

	return ProgressStats{
		Operation:  p.operation,
		Total:      len(p.stages),
		Current:    p.current,
		Stage:      p.stageName,
		Percentage: percentage,
		Duration:   time.Since(p.startTime),
		Timings:    timings,
	}
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Operation  string                   `json:"operation"`
	Total      int                      `json:"total"`
	Current    int                      `json:"current"`
	Stage      string                   `json:"stage"`
	Percentage float64                  `json:"percentage"`
	Duration   time.Duration            `json:"duration"`
	Timings    map[string]time.Duration `json:"timings,omitempty"`
}

func (ps ProgressStats) String() string {
	return fmt.Sprintf("%s: stage %d/%d (%s, %.0f%%), elapsed: %v",
		ps.Operation, ps.Current, ps.Total, ps.Stage, ps.Percentage, ps.Duration)
}

// OperationLogger provides structured logging for operations with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	ol := &OperationLogger{
		logger:    OrGlobal(logger).WithComponent("operation"),
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	ol.logger.WithField("operation", operation).Debug("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) merged(extra Fields) Fields {
	fields := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	})).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	})).Error(message)
}

// TimedOperation executes fn and logs its outcome and duration
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)

	err := fn()
	if err != nil {
		ol.Error(err, "Operation failed")
	} else {
		ol.Success("Operation completed successfully")
	}

	return err
}
