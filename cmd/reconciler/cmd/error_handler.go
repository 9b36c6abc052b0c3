package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// CLIErrorHandler turns command errors into readable messages and exit codes
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a handler that prints to w
func NewCLIErrorHandler(w io.Writer) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     w,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the exit code for it
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			if err.Context[key] == nil {
				continue
			}
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error:\n")
		for _, cause := range multierr.Errors(err.Cause) {
			fmt.Fprintf(h.out, "  %v\n", cause)
		}
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the order report and the payment report exist and are readable
• Use absolute paths if the command runs from another directory`

	case errors.CategoryParse:
		return `Parse error help:
• The order report must be .xlsx, .xls or .csv
• The payment report must be a .csv with a header row
• Make sure the file was not truncated during export`

	case errors.CategoryValidation:
		return `Validation error help:
• Compare the report headers with the columns the marketplace exports
• Order ids must be present on both reports for rows to match`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RECONCILER_* environment variables
• Verify configuration file syntax if using --config
• Use 'reconciler reconcile --help' to see all available options`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Check that both reports cover the same settlement period
• Review the tolerance bands in your configuration`

	case errors.CategoryNetwork:
		return `Network error help:
• Check that the listen address is free
• Check that the result store is reachable`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler reconcile --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full")
}
