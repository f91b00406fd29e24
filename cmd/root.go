package cmd

import (
	"fmt"
	"os"

	"dsynth/config"

	"github.com/spf13/cobra"
)

var (
	flagConfigDir string
	flagProfile   string
)

// rootCmd is the top-level dsynth command. Subcommands register themselves
// onto it from their own init() functions.
var rootCmd = &cobra.Command{
	Use:   "dsynth",
	Short: "dsynth builds packages from a ports tree in parallel chroots",
	Long: `dsynth resolves the dependency graph for a set of ports, orders the
build to respect it, and runs each port's build in an isolated chroot
environment with as many concurrent workers as the machine allows.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(flagConfigDir, flagProfile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		config.SetConfig(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory containing dsynth.ini (defaults to the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "configuration profile to use")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [--file PATH | export PATH]",
	Short: "Watch an active build in real time",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.GetConfig()
		if err := DoMonitor(cfg, args); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// Execute runs the dsynth CLI. It is the single entry point main() calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
