package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"settlement-reconciler/cmd/reconciler/config"
	"settlement-reconciler/internal/api"
	"settlement-reconciler/internal/reconciler"
	"settlement-reconciler/internal/session"
	"settlement-reconciler/internal/storage"
	"settlement-reconciler/pkg/logger"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload service",
	Long: `Serve starts the HTTP service. A client creates a session, uploads the order
report and the payment report, and the reconciliation starts once both are present.
Progress is pushed over a websocket and completed reports are kept in the result store.

Endpoints:
  POST /api/sessions
  GET  /api/sessions/{id}
  POST /api/sessions/{id}/upload/{mtr|payment}
  GET  /api/sessions/{id}/ws
  GET  /api/results?page=1&size=10
  GET  /api/results/{id}
  GET  /healthz

When --config is given the tolerance bands and loader settings are reloaded
whenever the file changes.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", api.DefaultConfig().Addr, "listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	v := viper.GetViper()
	log := logger.GetGlobalLogger().WithComponent("serve")

	pipeline, err := buildPipeline(v, log)
	if err != nil {
		return err
	}

	storeConfig, err := config.CreateStoreConfig(v)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, storeConfig, log)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionConfig, err := config.CreateSessionConfig(v)
	if err != nil {
		return err
	}
	manager, err := session.NewManager(sessionConfig, pipeline, store, log)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			entry := log.WithField("file", e.Name)
			next, err := buildPipeline(v, log)
			if err != nil {
				entry.WithError(err).Warn("Ignoring config change, keeping the current pipeline")
				return
			}
			manager.SetRunner(next)
		})
		v.WatchConfig()
	}

	serverConfig, err := config.CreateServerConfig(v)
	if err != nil {
		return err
	}
	server, err := api.NewServer(serverConfig, manager, store, log)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"addr":  serverConfig.Addr,
		"store": storeConfig.Driver,
	}).Info("Starting reconciliation service")

	return server.ListenAndServe(ctx)
}

func buildPipeline(v *viper.Viper, log logger.Logger) (*reconciler.Pipeline, error) {
	pipelineConfig, err := config.CreatePipelineConfig(v)
	if err != nil {
		return nil, err
	}
	return reconciler.New(pipelineConfig, log)
}
