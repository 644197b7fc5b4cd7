package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"storagemesh/engine"
	"storagemesh/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <store-id> <key-hex> <file>",
	Short: "Stage a key's content into the store's working generation",
	Long: `ingest reads a file, stores it content-addressed, and stages keyHex to
point at it. The change is not durable until a following "commit".`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, keyHex, path := args[0], args[1], args[2]

		st, err := store.Open(dataDir, storeID)
		if err != nil {
			return err
		}
		e, err := engine.Load(st.Blobs, st.Manifest, "")
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}
		if err := e.Upsert(keyHex, f); err != nil {
			return err
		}
		size := fmt.Sprintf("%d bytes", info.Size())
		if stdoutIsTTY() {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Printf("staged %s (%s) under key %s\n", path, size, keyHex)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
