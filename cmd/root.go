// Package cmd implements the meshctl command-line front end: one
// subcommand per store operation (init, ingest, commit, diff, verify,
// challenge, push, pull, serve), driven through the same packages the
// content and propagation servers use.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"storagemesh/config"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "Content-addressed storage mesh control tool",
	Long: `meshctl drives a single content-addressed store: ingest keys, commit
generations, verify possession proofs, and push or pull generations
against peers over the replication protocol.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cfg, _ := config.Load()
	defaultDir := cfg.FolderPath
	if defaultDir == "" {
		defaultDir = config.DefaultFolderPath
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDir, "root directory holding all store subdirectories")
}
