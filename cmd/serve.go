package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/lkarlslund/vertexgate/pkg/config"
	"github.com/lkarlslund/vertexgate/pkg/credentials"
	"github.com/lkarlslund/vertexgate/pkg/gateway"
	"github.com/lkarlslund/vertexgate/pkg/logutil"
	"github.com/lkarlslund/vertexgate/pkg/version"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath         string
	serveEnvFile            string
	serveListenAddrOverride string
	serveRegionOverride     string
	serveProjectIDOverride  string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(serveEnvFile); err != nil {
				return err
			}
			cfg, err := config.Load(serveConfigPath)
			if err != nil {
				return fmt.Errorf("load server config: %w", err)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("region") {
				cfg.Backend.Region = serveRegionOverride
			}
			if cmd.Flags().Changed("project-id") {
				cfg.Backend.ProjectID = serveProjectIDOverride
			}
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return err
			}
			// The config file may ask for more logging than the flags did.
			if !cmd.Flags().Changed("loglevel") && !cmd.Flags().Changed("log-file") {
				if err := logutil.Configure(cfg.Log.Level, cfg.Log.File); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			source, err := credentials.NewGoogleSource(ctx)
			if err != nil {
				return fmt.Errorf("init google credentials: %w", err)
			}
			state, err := gateway.NewState(*cfg, source)
			if err != nil {
				return fmt.Errorf("init gateway: %w", err)
			}

			fields := append(version.Current().LogFields(),
				"listen", cfg.ListenAddr,
				"project", cfg.Backend.ProjectID,
				"region", cfg.Backend.Region,
				"endpoint", cfg.Backend.EndpointID,
			)
			log.Info("starting "+version.Component, fields...)
			return gateway.NewServer(state).Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path (optional)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address (e.g. 127.0.0.1:8087)")
	serveCmd.Flags().StringVar(&serveRegionOverride, "region", "", "Override backend region (e.g. us-central1, global)")
	serveCmd.Flags().StringVar(&serveProjectIDOverride, "project-id", "", "Override backend project id")
	rootCmd.AddCommand(serveCmd)
}

// loadEnvFile fills unset variables from path; a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	log.Debug("loaded environment file", "path", path)
	return nil
}
