package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with fallbacks.
// A failing format is retried as JSON; a failing output file is retried next to it.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"output.format",
			config,
			err,
		).WithSuggestion("Use one of: console, json, yaml, csv, xlsx")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          logger.OrGlobal(log).WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely renders the report, falling back when the primary attempt fails
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.Result, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Info("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Info("Report generation completed successfully")
	return nil
}

func (srg *SafeReportGenerator) validateInputs(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Report == nil {
		return errors.New(errors.CategoryValidation, errors.CodeProcessingError, "no reconciliation result to report").
			WithSuggestion("Run the reconciliation before generating a report")
	}
	if writer == nil {
		return errors.New(errors.CategoryValidation, errors.CodeProcessingError, "no output writer for the report").
			WithSuggestion("Provide a valid output writer")
	}
	return nil
}

// generateWithFallback renders into a buffer first so a failed format never leaves partial output
func (srg *SafeReportGenerator) generateWithFallback(result *reconciler.Result, writer io.Writer) error {
	var buf bytes.Buffer
	err := srg.GenerateReport(result, &buf)
	if err != nil {
		srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")
		if !srg.shouldAttemptFormatFallback() {
			return srg.wrapGenerationError(err)
		}
		return srg.generateWithFormatFallback(result, writer, err)
	}

	if _, werr := writer.Write(buf.Bytes()); werr != nil {
		if srg.shouldAttemptOutputFallback(werr, writer) {
			return srg.generateWithOutputFallback(buf.Bytes(), writer, werr)
		}
		return srg.wrapGenerationError(werr)
	}
	return nil
}

func (srg *SafeReportGenerator) shouldAttemptFormatFallback() bool {
	return srg.config.Format != FormatJSON
}

func (srg *SafeReportGenerator) generateWithFormatFallback(result *reconciler.Result, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatJSON

	srg.logger.WithField("fallback_format", FormatJSON).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	if err := fallbackGenerator.GenerateReport(result, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" && file != os.Stdout && file != os.Stderr {
		return isFileError(err)
	}
	return false
}

func (srg *SafeReportGenerator) generateWithOutputFallback(content []byte, writer io.Writer, originalErr error) error {
	file := writer.(*os.File)
	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	if err := os.WriteFile(backupPath, content, 0o644); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Warn("Report written to backup location")
	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeProcessingError, "report generation failed").
		WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
