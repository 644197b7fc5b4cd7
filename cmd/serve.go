package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"storagemesh/config"
	"storagemesh/server"
	"storagemesh/telemetry"
	"storagemesh/walletiface"
	"storagemesh/wireformat"
)

var servePublicKey string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content and propagation HTTP servers against data-dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger, err := telemetry.NewLogger(cfg.Debug)
		if err != nil {
			return err
		}
		defer logger.Sync()

		metrics := telemetry.NewMetrics()

		content := server.NewContentServer(dataDir, wireformat.WellKnownInfo{
			PaymentAddress:  servePublicKey,
			ProtocolVersion: "1",
		})
		propagation := server.NewPropagationServer(dataDir, walletiface.Secp256k1Verifier{})

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())

		errCh := make(chan error, 2)
		go func() {
			addr := fmt.Sprintf(":%d", wireformat.ContentPort)
			logger.Sugar().Infof("content server listening on %s", addr)
			errCh <- http.ListenAndServe(addr, content.Handler())
		}()
		go func() {
			addr := fmt.Sprintf(":%d", wireformat.PropagationPort)
			logger.Sugar().Infof("propagation server listening on %s", addr)
			errCh <- http.ListenAndServe(addr, propagation.Handler())
		}()
		go func() {
			addr := fmt.Sprintf(":%d", wireformat.IncentivePort)
			logger.Sugar().Infof("metrics server listening on %s", addr)
			errCh <- http.ListenAndServe(addr, mux)
		}()

		return <-errCh
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePublicKey, "payment-address", "", "opaque payment address advertised at GET /.well-known")
	rootCmd.AddCommand(serveCmd)
}
