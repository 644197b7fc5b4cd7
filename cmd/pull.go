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

var (
	pullIdentityDir string
	pullForce       bool
)

var pullCmd = &cobra.Command{
	Use:   "pull <store-id> <root-hex> <peer-base-url...>",
	Short: "Pull a committed generation from the first candidate peer that has it",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, rootHex := args[0], args[1]
		candidates := args[2:]

		st, err := store.Open(dataDir, storeID)
		if err != nil {
			return err
		}

		identity, err := transport.LoadOrCreateIdentity(pullIdentityDir)
		if err != nil {
			return err
		}
		client := transport.New(identity, transport.Config{})
		signer, err := walletiface.NewSecp256k1Signer()
		if err != nil {
			return err
		}

		ctrl := replication.New(client, signer)
		result, err := ctrl.Pull(context.Background(), candidates, storeID, rootHex, st, pullForce)
		if err != nil {
			return err
		}

		fmt.Printf("downloaded %d keys\n", len(result.Downloaded))
		for peer, keys := range result.Blacklisted {
			fmt.Printf("blacklisted %s for keys %v\n", peer, keys)
		}
		return nil
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullIdentityDir, "identity-dir", "./.meshctl-identity", "directory holding this node's mTLS client identity")
	pullCmd.Flags().BoolVar(&pullForce, "force", false, "re-download every key even if already present locally")
	rootCmd.AddCommand(pullCmd)
}
