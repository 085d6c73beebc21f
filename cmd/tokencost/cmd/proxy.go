package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/monitoring"
	"github.com/AbdullahTarakji/tokencost/internal/proxy"
)

const shutdownTimeout = 15 * time.Second

var (
	proxyPort     int
	proxyUpstream string
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the metering proxy",
	Long: `Run a transparent HTTP proxy in front of OpenAI- and Anthropic-style
APIs. Point your client's base URL at the proxy; requests and responses pass
through unmodified while usage is metered into the ledger in the background.

The proxy also serves /healthz, Prometheus metrics on /metrics, and a live
WebSocket feed of metered calls on /live.`,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	proxyCmd.Flags().IntVarP(&proxyPort, "port", "p", 0, "Listen port (overrides config)")
	proxyCmd.Flags().StringVar(&proxyUpstream, "upstream", "", "Fixed upstream base URL (overrides provider auto-detection)")
}

func runProxy(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if proxyPort != 0 {
		app.cfg.Proxy.Port = proxyPort
	}
	if proxyUpstream != "" {
		app.cfg.Proxy.Upstream = proxyUpstream
	}

	events, err := monitoring.NewRecorder(app.cfg.Monitoring.EventLogPath, app.cfg.Monitoring.LogToStdout)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}

	srv := proxy.New(app.cfg.Proxy, app.meter, app.monitor, events, app.project())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("Metering proxy listening on http://localhost:%d\n", app.cfg.Proxy.Port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
