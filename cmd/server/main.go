package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/logging"
	"github.com/BioHazard786/shuffle/internal/metrics"
	"github.com/BioHazard786/shuffle/internal/server"
	"github.com/BioHazard786/shuffle/internal/signaling"
	"github.com/BioHazard786/shuffle/internal/ui"
	"github.com/BioHazard786/shuffle/internal/version"
)

const shutdownTimeout = 5 * time.Second

var opts config.ServerOptions

var rootCmd = &cobra.Command{
	Use:     "shuffle-server",
	Short:   "Matchmaking and signaling relay for Shuffle video chat",
	Long:    `shuffle-server pairs anonymous visitors at random and relays the WebRTC handshake between them over websockets. It keeps everything in memory.`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(opts)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (env SHUFFLE_ADDR, default :8080)")
	rootCmd.Flags().StringVar(&opts.AllowedOrigins, "allowed-origins", "", "comma separated browser origins allowed to connect (env SHUFFLE_ALLOWED_ORIGINS)")
	rootCmd.Flags().DurationVar(&opts.ReservationTTL, "reservation-ttl", 0, "release a match that sees no offer within this window (env SHUFFLE_RESERVATION_TTL, default 30s)")
	rootCmd.Flags().IntVar(&opts.SendBuffer, "send-buffer", 0, "per-connection outbound queue length (env SHUFFLE_SEND_BUFFER, default 256)")
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	logger := slog.Default()
	m := metrics.New()

	hub := signaling.NewHub(signaling.Config{
		ReservationTTL: cfg.ReservationTTL,
		SendBuffer:     cfg.SendBuffer,
	}, signaling.WithMetrics(m), signaling.WithLogger(logger))

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.NewRouter(hub, server.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Metrics:        m,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting signaling server", "addr", cfg.Addr, "version", version.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	// Closing every send queue makes the write pumps send a close frame.
	stopHub()
	<-hub.Done()
	return err
}

func main() {
	logging.Init(slog.LevelInfo)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
