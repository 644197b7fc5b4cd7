package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"storagemesh/engine"
	"storagemesh/store"
)

var commitCmd = &cobra.Command{
	Use:   "commit <store-id>",
	Short: "Persist the working generation as a new committed root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID := args[0]
		st, err := store.Open(dataDir, storeID)
		if err != nil {
			return err
		}
		e, err := engine.Load(st.Blobs, st.Manifest, "")
		if err != nil {
			return err
		}
		rootHex, err := e.Commit()
		if err != nil {
			return err
		}
		fmt.Println(rootHex)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
}
