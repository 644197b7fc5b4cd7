package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"storagemesh/challenge"
	"storagemesh/engine"
	"storagemesh/merkle"
	"storagemesh/store"
)

var (
	challengeSegmentSize  int
	challengeSegmentCount int
)

var challengeCmd = &cobra.Command{
	Use:   "challenge <store-id> <key-hex>",
	Short: "Run a local possession-proof challenge/response round trip for a key",
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
		if !e.HasKey(keyHex) {
			return fmt.Errorf("key %s not staged in store %s", keyHex, storeID)
		}

		proofHex, err := e.Prove(keyHex)
		if err != nil {
			return err
		}
		_, rootHex, _, err := merkle.Deserialize(proofHex)
		if err != nil {
			return err
		}

		rc, err := e.Read(keyHex, 0, 0)
		if err != nil {
			return err
		}
		shaHex, err := sha256OfStream(rc)
		rc.Close()
		if err != nil {
			return err
		}

		size, err := st.Blobs.UncompressedSize(shaHex)
		if err != nil {
			return err
		}

		seedHex, err := challenge.NewSeed()
		if err != nil {
			return err
		}
		c, err := challenge.Generate(storeID, keyHex, rootHex, seedHex, size, challengeSegmentSize, challengeSegmentCount)
		if err != nil {
			return err
		}

		clientResp, err := challenge.Respond(st.Blobs, shaHex, c)
		if err != nil {
			return err
		}
		serverResp, err := challenge.Respond(st.Blobs, shaHex, c)
		if err != nil {
			return err
		}

		if !challenge.Verify(clientResp, serverResp) {
			return fmt.Errorf("challenge response mismatch for key %s", keyHex)
		}
		fmt.Println("possession confirmed")
		return nil
	},
}

func init() {
	challengeCmd.Flags().IntVar(&challengeSegmentSize, "segment-size", 1024, "bytes read per challenged segment")
	challengeCmd.Flags().IntVar(&challengeSegmentCount, "segments", 10, "number of segments to challenge")
	rootCmd.AddCommand(challengeCmd)
}
