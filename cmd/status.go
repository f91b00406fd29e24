package cmd

import (
	"fmt"
	"os"

	"dsynth/config"
	"dsynth/service"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [ports...]",
	Short: "Show build database statistics, or status for specific ports",
	Long: `With no arguments, prints overall build database statistics (database
size and the numbers of build records, known packages and CRC entries). With one or more ports named,
prints the last recorded build outcome for each.`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := config.GetConfig()

	svc, err := service.NewService(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	result, err := svc.GetStatus(service.StatusOptions{PortList: args})
	if err != nil {
		fmt.Printf("Status error: %v\n", err)
		os.Exit(1)
	}

	if len(args) == 0 {
		if result.Stats == nil {
			fmt.Println("No build history recorded yet")
			return
		}
		fmt.Printf("Build database: %s\n", cfg.BuildBase)
		fmt.Printf("  Database size:   %d bytes\n", result.DatabaseSize)
		fmt.Printf("  Build records:   %d\n", result.Stats.TotalBuilds)
		fmt.Printf("  Packages known:  %d\n", result.Stats.TotalPackages)
		fmt.Printf("  CRC entries:     %d\n", result.Stats.TotalCRCs)
		return
	}

	for _, p := range result.Ports {
		if p.LastBuild == nil {
			fmt.Printf("%-40s never built\n", p.PortDir)
			continue
		}
		rebuild := ""
		if p.NeedsBuild {
			rebuild = " (needs rebuild)"
		}
		fmt.Printf("%-40s %s at %s%s\n", p.PortDir, p.LastBuild.Status, p.LastBuild.EndTime.Format("2006-01-02 15:04:05"), rebuild)
	}
}
