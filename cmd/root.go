package cmd

import (
	"os"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/vertexgate/pkg/logutil"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logFile  string
)

var rootCmd = &cobra.Command{
	Use:   "vertexgate",
	Short: "OpenAI-compatible gateway for Vertex AI",
	Long:  "vertexgate exposes OpenAI chat/completions and models endpoints backed by the Vertex AI OpenAI surface.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := logutil.Configure(logLevel, logFile); err != nil {
			return err
		}
		if os.Geteuid() == 0 {
			log.Warn("running as root")
		}
		return nil
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated at 10 MB)")
}
