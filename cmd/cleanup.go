package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"dsynth/config"
	"dsynth/service"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale worker directories and build artifacts",
	Long:  `Scan the build base for leftover worker directories (SLnn), unmount anything still attached, and remove them.`,
	Run:   runCleanup,
}

var rebuildRepoCmd = &cobra.Command{
	Use:   "rebuild-repo",
	Short: "Rebuild the package repository metadata",
	Long:  `Run pkg(8)'s repo subcommand over the configured package repository path.`,
	Run:   runRebuildRepo,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(rebuildRepoCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	cfg := config.GetConfig()

	svc, err := service.NewService(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	result, err := svc.CleanupStaleWorkers(service.CleanupOptions{})
	if err != nil {
		fmt.Printf("Cleanup error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Cleaned %d worker director%s\n", result.WorkersCleaned, plural(result.WorkersCleaned))
	for _, cleanupErr := range result.Errors {
		fmt.Printf("  warning: %v\n", cleanupErr)
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func runRebuildRepo(cmd *cobra.Command, args []string) {
	cfg := config.GetConfig()

	fmt.Println("Rebuilding package repository...")
	pkgCmd := exec.Command("pkg", "repo", cfg.RepositoryPath)
	pkgCmd.Stdout = os.Stdout
	pkgCmd.Stderr = os.Stderr

	if err := pkgCmd.Run(); err != nil {
		fmt.Printf("Warning: pkg repo failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Repository rebuilt successfully")
}
