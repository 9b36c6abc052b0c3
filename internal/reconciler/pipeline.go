// Package reconciler runs the settlement reconciliation pipeline.
//
// A run loads the order report and the payment report, normalizes both onto the
// canonical row schema, joins them on order id, classifies and tolerance-checks the
// joined rows, and rolls everything up into a summary report:
//
//	load -> normalize -> merge -> classify -> tolerance -> summarize
//
// The pipeline is a synchronous batch transform. A Pipeline value holds no per-run
// state and may be shared by concurrent callers.
//
// Example usage:
//
//	p, err := reconciler.New(reconciler.DefaultConfig(), log)
//	result, err := p.Run(ctx,
//		reconciler.Source{Name: "mtr.xlsx", Data: mtrBytes},
//		reconciler.Source{Name: "payments.csv", Data: paymentBytes},
//		nil)
//	json.NewEncoder(w).Encode(result.Report)
package reconciler

import (
	"context"
	"io"
	"time"

	"github.com/spf13/afero"

	"settlement-reconciler/internal/classifier"
	"settlement-reconciler/internal/matcher"
	"settlement-reconciler/internal/models"
	"settlement-reconciler/internal/normalizer"
	"settlement-reconciler/internal/parsers"
	"settlement-reconciler/internal/summary"
	"settlement-reconciler/internal/tolerance"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// Stage names, in execution order
const (
	StageLoad      = "load"
	StageNormalize = "normalize"
	StageMerge     = "merge"
	StageClassify  = "classify"
	StageTolerance = "tolerance"
	StageSummarize = "summarize"
)

// Stages lists every stage of a run in order
var Stages = []string{StageLoad, StageNormalize, StageMerge, StageClassify, StageTolerance, StageSummarize}

// Config holds the settings of every pipeline component
type Config struct {
	Loader          *parsers.LoaderConfig
	Matching        *matcher.MatchingConfig
	ToleranceBands  []tolerance.Band
	CurrencySymbols []string

	// FS is used for sources given by path; nil means the OS file system.
	FS afero.Fs
}

// DefaultConfig returns a configuration with every component at its defaults
func DefaultConfig() *Config {
	return &Config{
		Loader:          parsers.DefaultLoaderConfig(),
		Matching:        matcher.DefaultMatchingConfig(),
		ToleranceBands:  tolerance.DefaultBands(),
		CurrencySymbols: models.DefaultCurrencySymbols,
	}
}

// Validate checks every component configuration
func (c *Config) Validate() error {
	if c.Loader == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "loader", nil, nil)
	}
	if err := c.Loader.Validate(); err != nil {
		return err
	}
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	return tolerance.ValidateBands(c.ToleranceBands)
}

// Source is one input report. Data wins over Path when both are set.
type Source struct {
	Name string
	Path string
	Data []byte
}

// Label names the source for logs and errors
func (s Source) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Stats collects what each stage did
type Stats struct {
	OrderBackend   string                   `json:"order_backend"`
	PaymentBackend string                   `json:"payment_backend"`
	Order          *normalizer.Stats        `json:"order"`
	Payment        *normalizer.Stats        `json:"payment"`
	Merge          matcher.MergeStats       `json:"merge"`
	Duplicates     *matcher.DuplicateReport `json:"duplicates,omitempty"`
	Tolerance      map[models.Verdict]int   `json:"-"`
	Duration       time.Duration            `json:"duration"`
}

// Result is the complete output of one run
type Result struct {
	Rows        []models.MergedRow
	Buckets     classifier.Buckets
	Report      *summary.Report
	Stats       *Stats
	ProcessedAt time.Time
}

// BucketRows returns the merged rows of one bucket
func (r *Result) BucketRows(name string) []models.MergedRow {
	idx := r.Buckets[name]
	out := make([]models.MergedRow, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.Rows[i])
	}
	return out
}

// Pipeline wires the components of a run together
type Pipeline struct {
	loader     *parsers.Loader
	mtr        *normalizer.MTRNormalizer
	payment    *normalizer.PaymentNormalizer
	matcher    *matcher.Matcher
	classifier *classifier.Classifier
	tolerance  *tolerance.Engine
	fs         afero.Fs
	logger     logger.Logger
}

// New validates the configuration and builds a pipeline
func New(config *Config, log logger.Logger) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log = logger.OrGlobal(log)

	loader, err := parsers.NewLoader(config.Loader, log)
	if err != nil {
		return nil, err
	}
	engine, err := tolerance.NewEngine(config.ToleranceBands, log)
	if err != nil {
		return nil, err
	}

	fs := config.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Pipeline{
		loader:     loader,
		mtr:        normalizer.NewMTRNormalizer(log),
		payment:    normalizer.NewPaymentNormalizer(log, config.CurrencySymbols),
		matcher:    matcher.NewMatcher(config.Matching, log),
		classifier: classifier.New(nil, log),
		tolerance:  engine,
		fs:         fs,
		logger:     log.WithComponent("pipeline"),
	}, nil
}

// Run reconciles one order report against one payment report. When progress is
// non-nil each stage prints a one-line status to it. Run either returns a complete
// result or an error, never both.
func (p *Pipeline) Run(ctx context.Context, order, payment Source, progress io.Writer) (*Result, error) {
	start := time.Now()
	tracker := logger.NewStageTracker(logger.StageConfig{
		Operation: "reconcile",
		Stages:    Stages,
		Logger:    p.logger,
		Output:    progress,
	})

	p.logger.WithFields(logger.Fields{
		"order_report":   order.Label(),
		"payment_report": payment.Label(),
	}).Info("Starting reconciliation")

	result, err := p.run(ctx, order, payment, tracker)
	if err != nil {
		tracker.CompleteWithError(err)
		p.logger.WithError(err).Error("Reconciliation failed")
		return nil, err
	}

	result.Stats.Duration = time.Since(start)
	tracker.Complete()

	p.logger.WithFields(logger.Fields{
		"merged_rows": len(result.Rows),
		"duration":    result.Stats.Duration,
	}).Info("Reconciliation complete")

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, order, payment Source, tracker *logger.StageTracker) (*Result, error) {
	stats := &Stats{}

	tracker.Begin(StageLoad)
	orderTable, err := p.load(ctx, order, models.OrderReport)
	if err != nil {
		return nil, err
	}
	paymentTable, err := p.load(ctx, payment, models.PaymentReport)
	if err != nil {
		return nil, err
	}
	stats.OrderBackend = orderTable.Backend
	stats.PaymentBackend = paymentTable.Backend
	tracker.Done(orderTable.Len() + paymentTable.Len())

	tracker.Begin(StageNormalize)
	orderRows, orderStats, err := p.mtr.Normalize(orderTable)
	if err != nil {
		return nil, err
	}
	paymentRows, paymentStats, err := p.payment.Normalize(paymentTable)
	if err != nil {
		return nil, err
	}
	stats.Order = orderStats
	stats.Payment = paymentStats
	tracker.Done(len(orderRows) + len(paymentRows))

	tracker.Begin(StageMerge)
	merged := p.matcher.Merge(orderRows, paymentRows)
	stats.Merge = merged.Stats
	stats.Duplicates = merged.Duplicates
	tracker.Done(len(merged.Rows))

	tracker.Begin(StageClassify)
	buckets := p.classifier.Classify(merged.Rows)
	tracker.Done(len(merged.Rows))

	tracker.Begin(StageTolerance)
	rows, verdicts := p.tolerance.Apply(merged.Rows)
	stats.Tolerance = verdicts
	tracker.Done(len(rows))

	tracker.Begin(StageSummarize)
	report := summary.Aggregate(rows, buckets)
	tracker.Done(report.Summary.Count)

	return &Result{
		Rows:        rows,
		Buckets:     buckets,
		Report:      report,
		Stats:       stats,
		ProcessedAt: time.Now().UTC(),
	}, nil
}

func (p *Pipeline) load(ctx context.Context, src Source, kind models.SourceKind) (*models.RawTable, error) {
	if src.Data == nil && src.Path != "" {
		return p.loader.LoadFile(ctx, p.fs, src.Path, kind)
	}
	if src.Data == nil {
		return nil, errors.SourceNotFoundError(src.Label(), nil).
			WithContext("source_kind", kind.String()).
			WithSuggestion("Provide the report contents or a path to the report file")
	}
	return p.loader.Load(ctx, src.Label(), kind, src.Data)
}
