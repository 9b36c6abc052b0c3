package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"settlement-reconciler/pkg/logger"
)

func TestRootReconcileEndToEnd(t *testing.T) {
	files := writeReports(t)
	out := filepath.Join(files.dir, "report.json")

	viper.Reset()
	t.Cleanup(func() {
		viper.Reset()
		logger.SetGlobalLogger(logger.Discard())
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"reconcile",
		"--env-file", "",
		"-m", files.order,
		"-p", files.payment,
		"-f", "json",
		"-o", out,
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("root command failed: %v\nstderr: %s", err, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	var report struct {
		Summary struct {
			Count int `json:"count"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report.Summary.Count != 2 {
		t.Errorf("expected 2 orders in the summary, got %d", report.Summary.Count)
	}
	if rootCmd.PersistentPreRunE == nil {
		t.Error("expected the root command to load configuration before subcommands")
	}
}
