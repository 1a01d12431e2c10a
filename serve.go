package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"ttsforge/api"
	"ttsforge/logx"
	"ttsforge/task"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background conversion queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			lg := logx.Component("serve")

			conv, err := ctx.converter(cfg)
			if err != nil {
				return err
			}
			taskManager, err := task.NewManager(cfg, conv)
			if err != nil {
				return err
			}

			if cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.SetupRouter(taskManager, cfg)
			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: router,
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			taskManager.Start(runCtx)

			errCh := make(chan error, 1)
			go func() {
				lg.Info().Str("port", cfg.Port).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-runCtx.Done():
			}

			stop()
			lg.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			lg.Info().Msg("server exiting")
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Override PORT")
	return cmd
}
