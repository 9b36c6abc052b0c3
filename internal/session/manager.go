package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/internal/storage"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// Runner reconciles one pair of sources. *reconciler.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, order, payment reconciler.Source, progress io.Writer) (*reconciler.Result, error)
}

// Config controls the manager
type Config struct {
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	QueueSize             int           `mapstructure:"queue_size"`
	SessionTTL            time.Duration `mapstructure:"session_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig returns the service defaults
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentSessions: 4,
		QueueSize:             64,
		SessionTTL:            time.Hour,
		SweepInterval:         5 * time.Minute,
	}
}

// Validate checks the manager settings
func (c *Config) Validate() error {
	if c.MaxConcurrentSessions < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "sessions.max_concurrent_sessions", c.MaxConcurrentSessions, nil)
	}
	if c.QueueSize < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "sessions.queue_size", c.QueueSize, nil)
	}
	if c.SessionTTL <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "sessions.session_ttl", c.SessionTTL, nil)
	}
	if c.SweepInterval <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "sessions.sweep_interval", c.SweepInterval, nil)
	}
	return nil
}

// Manager owns the upload sessions of one service instance
type Manager struct {
	config *Config
	store  storage.Store
	logger logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	runner   Runner
	nextSub  int
	started  bool
	stopped  bool

	queue     chan string
	scheduler *gocron.Scheduler
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewManager creates a manager. Call Start before attaching uploads.
func NewManager(config *Config, runner Runner, store storage.Store, log logger.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "pipeline", nil, nil)
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	return &Manager{
		config:   config,
		store:    store,
		logger:   logger.OrGlobal(log).WithComponent("sessions"),
		now:      time.Now,
		sessions: make(map[string]*session),
		runner:   runner,
		queue:    make(chan string, config.QueueSize),
		done:     make(chan struct{}),
	}, nil
}

// SetRunner replaces the pipeline used by sessions processed from now on
func (m *Manager) SetRunner(r Runner) {
	if r == nil {
		return
	}
	m.mu.Lock()
	m.runner = r
	m.mu.Unlock()
	m.logger.Info("Pipeline replaced for subsequent sessions")
}

// Start launches the worker pool and the expiry sweeper. Both stop when ctx is
// cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		m.scheduler = gocron.NewScheduler(time.UTC)
		m.scheduler.SingletonModeAll()
		if _, err = m.scheduler.Every(m.config.SweepInterval).WaitForSchedule().Do(func() {
			if n := m.Sweep(m.now()); n > 0 {
				m.logger.WithField("expired", n).Info("Expired stale sessions")
			}
		}); err != nil {
			err = errors.InternalError(errors.CodeUnexpectedError, "schedule_sweeper", err)
			return
		}
		m.scheduler.StartAsync()

		go m.dispatch(ctx)
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()

		m.logger.WithFields(logger.Fields{
			"workers":        m.config.MaxConcurrentSessions,
			"session_ttl":    m.config.SessionTTL,
			"sweep_interval": m.config.SweepInterval,
		}).Info("Session manager started")
	})
	return err
}

// dispatch feeds ready sessions to a bounded pool until the queue closes
func (m *Manager) dispatch(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(m.config.MaxConcurrentSessions)
	defer func() {
		p.Wait()
		close(m.done)
	}()

	for {
		select {
		case <-ctx.Done():
			m.abandonQueued("service shutting down")
			return
		case id, ok := <-m.queue:
			if !ok {
				return
			}
			p.Go(func() { m.process(ctx, id) })
		}
	}
}

// abandonQueued refuses further uploads and fails every session still waiting
// in the queue so subscribers see a terminal state.
func (m *Manager) abandonQueued(reason string) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	abandoned := 0
	for {
		select {
		case id, ok := <-m.queue:
			if !ok {
				m.logAbandoned(abandoned)
				return
			}
			if m.fail(id, reason) {
				abandoned++
			}
		default:
			m.logAbandoned(abandoned)
			return
		}
	}
}

func (m *Manager) logAbandoned(n int) {
	if n > 0 {
		m.logger.WithField("sessions", n).Warn("Queued sessions failed on shutdown")
	}
}

// fail moves a ready session straight to failed
func (m *Manager) fail(id, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.snapshot.Status != StatusReady {
		return false
	}
	s.order, s.payment = nil, nil
	s.snapshot.Status = StatusFailed
	s.snapshot.Error = reason
	s.snapshot.UpdatedAt = m.now()
	s.publish()
	return true
}

// Stop stops the sweeper, lets running sessions finish and waits for them
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.scheduler != nil {
			m.scheduler.Stop()
		}
		m.mu.Lock()
		m.stopped = true
		started := m.started
		close(m.queue)
		m.mu.Unlock()
		if started {
			<-m.done
		}
		m.logger.Info("Session manager stopped")
	})
}

// Create opens a new session. An empty id gets a generated one.
func (m *Manager) Create(id string) (Snapshot, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return Snapshot{}, errors.ReconciliationError(errors.CodeSessionState, "create", nil).
			WithContext("session_id", id).
			WithSuggestion("use a new correlation id for each reconciliation")
	}
	s := newSession(id, m.now())
	m.sessions[id] = s

	m.logger.WithField("session_id", id).Debug("Session created")
	return s.copy(), nil
}

// Attach stores one upload. Attaching the same kind twice replaces the earlier
// file. The session is queued for processing once both kinds are present.
func (m *Manager) Attach(id string, kind models.SourceKind, filename string, data []byte) (Snapshot, error) {
	if !kind.IsValid() {
		return Snapshot{}, errors.New(errors.CategoryValidation, errors.CodeInvalidConfig,
			fmt.Sprintf("unknown report type '%s'", kind))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return Snapshot{}, errors.ReconciliationError(errors.CodeSessionState, "upload", nil).
			WithSuggestion("the service is shutting down")
	}
	s, ok := m.sessions[id]
	if !ok {
		return Snapshot{}, notFound(id)
	}
	if s.snapshot.Status != StatusWaiting {
		return Snapshot{}, errors.ReconciliationError(errors.CodeSessionState, "upload", nil).
			WithContext("session_id", id).
			WithContext("status", s.snapshot.Status)
	}

	s.attach(kind, filename, data, m.now())
	m.logger.WithFields(logger.Fields{
		"session_id": id,
		"kind":       kind,
		"file":       filename,
		"bytes":      len(data),
	}).Info("Report attached")

	if s.snapshot.Status == StatusReady {
		select {
		case m.queue <- id:
		default:
			s.snapshot.Status = StatusFailed
			s.snapshot.Error = "processing queue is full"
			s.order, s.payment = nil, nil
			m.logger.WithField("session_id", id).Warn("Processing queue full, session rejected")
		}
	}
	s.publish()
	return s.copy(), nil
}

// Get returns the current state of a session
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Snapshot{}, notFound(id)
	}
	return s.copy(), nil
}

// Subscribe returns a channel that receives the current snapshot and then every
// transition. The channel is closed after a terminal state. cancel releases the
// subscription early.
func (m *Manager) Subscribe(id string) (<-chan Snapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, notFound(id)
	}

	ch := make(chan Snapshot, 8)
	ch <- s.copy()
	if s.snapshot.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	key := m.nextSub
	m.nextSub++
	s.subscribers[key] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := s.subscribers[key]; ok {
			close(c)
			delete(s.subscribers, key)
		}
	}
	return ch, cancel, nil
}

// Sweep expires sessions idle for longer than the TTL. Ready and processing
// sessions are left alone. It returns the number of expired sessions.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := 0
	for id, s := range m.sessions {
		st := s.snapshot.Status
		if st == StatusReady || st == StatusProcessing {
			continue
		}
		if now.Sub(s.snapshot.UpdatedAt) <= m.config.SessionTTL {
			continue
		}
		if st == StatusWaiting {
			s.snapshot.Status = StatusExpired
			s.snapshot.UpdatedAt = now
			s.order, s.payment = nil, nil
			s.publish()
		}
		delete(m.sessions, id)
		expired++
	}
	return expired
}

// begin moves a ready session to processing and hands out its sources
func (m *Manager) begin(id string) (reconciler.Source, reconciler.Source, Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.snapshot.Status != StatusReady {
		return reconciler.Source{}, reconciler.Source{}, nil, false
	}
	s.snapshot.Status = StatusProcessing
	s.snapshot.UpdatedAt = m.now()
	s.publish()
	return *s.order, *s.payment, m.runner, true
}

func (m *Manager) process(ctx context.Context, id string) {
	order, payment, runner, ok := m.begin(id)
	if !ok {
		return
	}
	log := m.logger.WithField("session_id", id)
	log.Info("Processing session")

	var (
		result *reconciler.Result
		runErr error
		pc     panics.Catcher
	)
	pc.Try(func() {
		result, runErr = runner.Run(ctx, order, payment, nil)
	})
	if r := pc.Recovered(); r != nil {
		runErr = errors.InternalError(errors.CodeUnexpectedError, "reconcile", r.AsError())
	}

	record := &storage.Record{
		ID:          uuid.NewString(),
		SessionID:   id,
		OrderFile:   order.Label(),
		PaymentFile: payment.Label(),
		Status:      storage.StatusCompleted,
		CreatedAt:   m.now(),
	}
	if runErr != nil {
		record.Status = storage.StatusFailed
		record.Error = runErr.Error()
	} else {
		record.Report = result.Report
		record.Ledger = reporter.Ledger(result)
	}

	resultID := record.ID
	if err := m.store.Save(ctx, record); err != nil {
		log.WithError(err).Error("Failed to store reconciliation result")
		resultID = ""
	}

	m.finish(id, record, resultID)

	if runErr != nil {
		log.WithError(runErr).Warn("Session failed")
		return
	}
	log.WithFields(logger.Fields{
		"rows":      len(result.Rows),
		"result_id": resultID,
		"duration":  result.Stats.Duration,
	}).Info("Session completed")
}

func (m *Manager) finish(id string, record *storage.Record, resultID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.order, s.payment = nil, nil
	s.snapshot.UpdatedAt = m.now()
	s.snapshot.ResultID = resultID
	if record.Status == storage.StatusFailed {
		s.snapshot.Status = StatusFailed
		s.snapshot.Error = record.Error
	} else {
		s.snapshot.Status = StatusCompleted
		s.snapshot.Result = record.Report
	}
	s.publish()
}

func notFound(id string) *errors.ReconcilerError {
	return errors.ReconciliationError(errors.CodeSessionNotFound, id, nil).
		WithSuggestion("create a session before uploading reports")
}
