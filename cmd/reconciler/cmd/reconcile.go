package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"settlement-reconciler/cmd/reconciler/config"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/reporter"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// Flags for the reconcile command
var (
	orderReport   string
	paymentReport string
	outputFormat  string
	outputFile    string
	showProgress  bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile an order report with a payment settlement report",
	Long: `Reconcile joins the order report (MTR) with the payment settlement report on
order id, classifies every order and checks each payout against its tolerance band.

This command requires:
- An order report (.xlsx, .xls or .csv)
- A payment settlement report (.csv)

Examples:
  # Console report
  reconciler reconcile --order-report mtr.xlsx --payment-report payments.csv

  # JSON summary written to a file
  reconciler reconcile -m mtr.xlsx -p payments.csv --output-format json --output-file report.json

  # Full merged ledger as CSV
  reconciler reconcile -m mtr.xlsx -p payments.csv -f csv -o ledger.csv

  # Workbook with one sheet per bucket, with stage progress on stderr
  reconciler reconcile -m mtr.xlsx -p payments.csv -f xlsx -o report.xlsx --progress`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	addReconcileFlags(reconcileCmd)
}

func addReconcileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&orderReport, "order-report", "m", "", "path to the order report (MTR) (required)")
	cmd.Flags().StringVarP(&paymentReport, "payment-report", "p", "", "path to the payment settlement CSV (required)")

	cmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, yaml, csv, xlsx")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	cmd.Flags().BoolVar(&showProgress, "progress", false, "show stage progress on stderr")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Values come from viper so a config file or the environment can supply them
	orderReport = viper.GetString("order-report")
	paymentReport = viper.GetString("payment-report")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	showProgress = viper.GetBool("progress")

	if orderReport == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "order-report", nil, nil)
	}
	if paymentReport == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "payment-report", nil, nil)
	}

	if err := validateFileExists(orderReport, "order report"); err != nil {
		return err
	}
	if err := validateFileExists(paymentReport, "payment report"); err != nil {
		return err
	}

	format := reporter.OutputFormat(outputFormat)
	if !format.IsValid() {
		names := make([]string, len(reporter.Formats))
		for i, f := range reporter.Formats {
			names[i] = string(f)
		}
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat,
			fmt.Errorf("invalid output format '%s'. Valid formats: %s", outputFormat, strings.Join(names, ", ")))
	}
	if format == reporter.FormatXLSX && outputFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "output-file", nil,
			fmt.Errorf("the xlsx format needs an output file")).
			WithSuggestion("pass --output-file report.xlsx")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.ConfigurationError(errors.CodeInvalidConfig, "output-file", outputFile,
					fmt.Errorf("output directory does not exist: %s", dir))
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.SourceNotFoundError(filePath, fmt.Errorf("%s path cannot be empty", description))
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return errors.SourceNotFoundError(filePath, fmt.Errorf("%s: %w", description, err))
	}
	if info.IsDir() {
		return errors.SourceNotFoundError(filePath, fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.SourceNotFoundError(filePath, fmt.Errorf("%s is not readable: %w", description, err))
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.GetGlobalLogger().WithComponent("cli")

	log.WithFields(logger.Fields{
		"order_report":   orderReport,
		"payment_report": paymentReport,
		"output_format":  outputFormat,
		"output_file":    outputFile,
	}).Debug("Starting reconciliation")

	pipelineConfig, err := config.CreatePipelineConfig(viper.GetViper())
	if err != nil {
		return err
	}
	pipeline, err := reconciler.New(pipelineConfig, log)
	if err != nil {
		return err
	}

	var progress io.Writer
	if showProgress {
		progress = cmd.ErrOrStderr()
	}

	result, err := pipeline.Run(ctx,
		reconciler.Source{Path: orderReport},
		reconciler.Source{Path: paymentReport},
		progress)
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(config.CreateReportConfig(outputFormat), log)
	if err != nil {
		return err
	}

	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.Wrap(err, errors.CategoryFile, errors.CodeProcessingError, "failed to create output file").
				WithContext("path", outputFile)
		}
		defer file.Close()
		output = file
	}

	if err := generator.GenerateReportSafely(result, output); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		stats := result.Stats
		fmt.Fprintf(cmd.ErrOrStderr(), "\nReconciliation completed in %v.\n", stats.Duration)
		fmt.Fprintf(cmd.ErrOrStderr(), "Merged %d rows: %d matched, %d order only, %d payment only.\n",
			len(result.Rows), stats.Merge.Matched, stats.Merge.OrderOnly, stats.Merge.PaymentOnly)
	}

	return nil
}
