package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strataquant/strata/pkg/gateway"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Serve starts the WebSocket and HTTP gateway. Clients authenticate
with the shared secret, drive conversations over JSON-RPC, and receive
turn events for every run as it completes.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	gw := rt.cfg.Gateway
	if !gw.Enabled {
		rt.log.Warn().Msg("gateway.enabled is false in config, serving anyway")
	}
	port := gw.Port
	if servePort > 0 {
		port = servePort
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:              gw.Host,
		Port:              port,
		SharedSecret:      gw.SharedSecret,
		TickInterval:      time.Duration(gw.TickInterval) * time.Millisecond,
		RequestsPerMinute: gw.RequestsPerMinute,
		Runner:            rt.runner,
		Validator:         rt.validator,
		Transcripts:       rt.transcripts,
		RunDefaults:       rt.runDefaults(),
		Logger:            rt.log.Zerolog(),
	})
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	cmd.Printf("Gateway listening on %s:%d\n", gw.Host, port)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	cmd.Println("Shutting down...")
	return server.Stop()
}
