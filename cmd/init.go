package cmd

import (
	"fmt"
	"os"

	"dsynth/config"
	"dsynth/service"

	"github.com/spf13/cobra"
)

var (
	flagInitAutoMigrate bool
)

var prepareSystemCmd = &cobra.Command{
	Use:     "prepare-system",
	Aliases: []string{"init"},
	Short:   "Create the build base layout and initialize the build database",
	Long: `Create the configured directory layout (build base, logs, packages,
distfiles, options), seed the template skeleton, and open (creating if
absent) the build database. Safe to run again against an existing build
base; existing directories and a populated template are left untouched.`,
	Run: runPrepareSystem,
}

func init() {
	prepareSystemCmd.Flags().BoolVar(&flagInitAutoMigrate, "migrate-legacy-crc", false, "migrate a legacy CRC database if one is found")
	rootCmd.AddCommand(prepareSystemCmd)
}

func runPrepareSystem(cmd *cobra.Command, args []string) {
	cfg := config.GetConfig()

	svc, err := service.NewService(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	result, err := svc.Initialize(service.InitOptions{AutoMigrate: flagInitAutoMigrate})
	if err != nil {
		fmt.Printf("Initialization error: %v\n", err)
		os.Exit(1)
	}

	for _, dir := range result.DirsCreated {
		fmt.Printf("  created %s\n", dir)
	}
	if result.TemplateCreated {
		fmt.Println("  template skeleton created")
	}
	if result.DatabaseInitalized {
		fmt.Println("  build database initialized")
	}
	if result.MigrationNeeded && !result.MigrationPerformed {
		fmt.Println("  legacy CRC data found; rerun with --migrate-legacy-crc to migrate it")
	}
	if result.MigrationPerformed {
		fmt.Println("  legacy CRC data migrated")
	}
	fmt.Printf("  ports found: %d\n", result.PortsFound)
	for _, w := range result.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
