package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var forceCleanup bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove build directories",
	Long: `Remove the build_<name> directories created under runner.build_root.
With --only, only the named configurations are cleaned.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVarP(&forceCleanup, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().StringSliceVar(&onlyConfigs, "only", nil,
		"Limit to these configurations (comma-separated or repeated flag)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	selected, err := cfg.Select(onlyConfigs)
	if err != nil {
		return err
	}

	var dirs []string

	for _, cc := range selected {
		dir := cfg.OutputDir(cc.Name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}

	if len(dirs) == 0 {
		log.Info("No build directories found")

		return nil
	}

	fmt.Printf("\nBuild directories to be removed (%d):\n", len(dirs))

	for _, d := range dirs {
		fmt.Printf("  - %s (%s)\n", d, units.HumanSize(float64(dirSize(d))))
	}

	fmt.Println()

	// Prompt for confirmation if not forced.
	if !forceCleanup {
		fmt.Print("Are you sure you want to remove these directories? [y/N] ")

		reader := bufio.NewReader(os.Stdin)

		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			log.Info("Cleanup cancelled")

			return nil
		}
	}

	for _, d := range dirs {
		log.WithField("dir", d).Info("Removing build directory")

		if err := os.RemoveAll(d); err != nil {
			log.WithError(err).WithField("dir", d).Warn("Failed to remove build directory")
		}
	}

	return nil
}

// dirSize sums regular file sizes below dir. Unreadable entries are skipped.
func dirSize(dir string) int64 {
	var total int64

	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}

		return nil
	})

	return total
}
