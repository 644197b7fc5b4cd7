package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"storagemesh/replication"
	"storagemesh/store"
	"storagemesh/transport"
	"storagemesh/walletiface"
)

var pushIdentityDir string

var pushCmd = &cobra.Command{
	Use:   "push <store-id> <peer-base-url>",
	Short: "Push the latest committed generation to a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, baseURL := args[0], args[1]
		st, err := store.Open(dataDir, storeID)
		if err != nil {
			return err
		}

		rootHex, err := st.Manifest.LatestRoot()
		if err != nil {
			return err
		}
		if rootHex == "" {
			return fmt.Errorf("store %s has no committed generation to push", storeID)
		}
		gen, err := st.Manifest.LoadGeneration(rootHex)
		if err != nil {
			return err
		}
		roots, err := st.Manifest.Roots()
		if err != nil {
			return err
		}

		identity, err := transport.LoadOrCreateIdentity(pushIdentityDir)
		if err != nil {
			return err
		}
		client := transport.New(identity, transport.Config{})
		signer, err := walletiface.NewSecp256k1Signer()
		if err != nil {
			return err
		}

		ctrl := replication.New(client, signer)
		plan, err := ctrl.Push(context.Background(), baseURL, storeID, rootHex, gen, len(roots)-1, st.Blobs)
		if err != nil {
			return err
		}
		if plan.Skip {
			fmt.Println("peer already has this root; nothing to push")
			return nil
		}
		fmt.Printf("pushed root %s via session %s\n", rootHex, plan.SessionID)
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushIdentityDir, "identity-dir", "./.meshctl-identity", "directory holding this node's mTLS client identity")
	rootCmd.AddCommand(pushCmd)
}
