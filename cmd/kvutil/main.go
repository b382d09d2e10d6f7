package main

import (
	"fmt"
	"os"

	"github.com/cuemby/kvaerner/internal/config"
	"github.com/cuemby/kvaerner/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kvutil",
	Short:   "kvutil inspects and repairs kvaerner database directories",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("kvutil version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to an engine-wide YAML defaults file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(salvageCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(scanCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{
		Level:      logging.Level(level),
		JSONOutput: jsonOut,
	})
}

// loadEngineConfig reads the --config YAML file, if given, returning
// nil if the flag was left empty (kv.ApplyEngineConfig tolerates nil).
func loadEngineConfig(cmd *cobra.Command) (*config.EngineConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return nil, nil
	}
	return config.LoadFile(path)
}
