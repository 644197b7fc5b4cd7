package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"storagemesh/engine"
	"storagemesh/store"
)

var diffCmd = &cobra.Command{
	Use:   "diff <store-id> <root-a> <root-b>",
	Short: "Show the key-level difference between two committed generations",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, rootA, rootB := args[0], args[1], args[2]
		st, err := store.Open(dataDir, storeID)
		if err != nil {
			return err
		}
		added, removed, err := engine.Diff(st.Manifest, rootA, rootB)
		if err != nil {
			return err
		}
		for k, sha := range added {
			fmt.Printf("+ %s %s\n", k, sha)
		}
		for k, sha := range removed {
			fmt.Printf("- %s %s\n", k, sha)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
