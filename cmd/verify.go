package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"storagemesh/engine"
	"storagemesh/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <store-id> <key-hex>",
	Short: "Emit a Merkle proof for a key and confirm it verifies against its own content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, keyHex := args[0], args[1]
		st, err := store.Open(dataDir, storeID)
		if err != nil {
			return err
		}
		e, err := engine.Load(st.Blobs, st.Manifest, "")
		if err != nil {
			return err
		}

		proofHex, err := e.Prove(keyHex)
		if err != nil {
			return err
		}

		rc, err := e.Read(keyHex, 0, 0)
		if err != nil {
			return err
		}
		defer rc.Close()
		shaHex, err := sha256OfStream(rc)
		if err != nil {
			return err
		}

		ok, err := engine.VerifyProof(proofHex, shaHex)
		if err != nil {
			return err
		}

		fmt.Println(proofHex)
		if !ok {
			return fmt.Errorf("proof does not verify against key %s", keyHex)
		}
		fmt.Println("verified")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
