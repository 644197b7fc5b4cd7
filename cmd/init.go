package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"storagemesh/store"
)

var initCmd = &cobra.Command{
	Use:   "init <store-id>",
	Short: "Create (or reopen) a store directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(dataDir, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("store %s ready at %s\n", st.ID, st.Dir)

		height, hash, err := st.Height()
		if err != nil {
			return err
		}
		if hash != "" {
			fmt.Printf("creation anchor cached: height %d, root %s\n", height, hash)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
