package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"feedkeeper/internal/core"
	"feedkeeper/internal/server"
)

// shutdownTimeout bounds how long running fetches get to finish
const shutdownTimeout = 30 * time.Second

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedkeeper server",
	Long:  `Start polling follows and serve the HTTP API. Settings come from the config file, flags or FEEDKEEPER_<flag> environment variables (e.g. FEEDKEEPER_PORT=4000).`,
	RunE:  runServe,
}

func init() {
	key := "host"
	ServeCmd.Flags().String(key, "", "address to listen on")
	key = "port"
	ServeCmd.Flags().Int(key, 0, "port to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	config, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := core.OpenDatabase(config.Database, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(config, logger, db)
	if err != nil {
		db.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server stopped", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
