package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vintagevision/vintagevision/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis, session and evaluation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initApp(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := server.New(server.Deps{
			Analyses:  env.Analysis,
			Sessions:  env.Sessions,
			Evaluator: env.Harness,
			Corpus:    env.Corpus,
			Reports:   env.Store,
			Insights:  env.Store,
		}, cfg.Server)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
