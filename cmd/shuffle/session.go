package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/dns"
	"github.com/BioHazard786/shuffle/internal/signalclient"
	"github.com/BioHazard786/shuffle/internal/ui"
)

const welcomeTimeout = 10 * time.Second

var errNoWelcome = errors.New("server did not assign a handle")

// Connection is a signaling connection that has been welcomed by the server.
type Connection struct {
	Client  *signalclient.Client
	Handler *signalclient.Handler
	Config  *config.Config
	Self    string
}

// Connect dials the server in cfg and waits for the welcome that carries
// this client's handle.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Connection, error) {
	sp := ui.NewConnectionSpinner(ui.IconConnect + " Connecting to " + cfg.Server + "...")
	sp.Start()
	defer sp.Stop()

	client, err := signalclient.NewClient(cfg.WebSocketURL, cfg.Codec,
		signalclient.WithResolver(dns.NewResolver()),
		signalclient.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Server, err)
	}

	handler := signalclient.NewHandler(client, logger)
	go handler.Start()

	timer := time.NewTimer(welcomeTimeout)
	defer timer.Stop()

	select {
	case self := <-handler.Welcome:
		sp.Success("Connected as " + self)
		return &Connection{Client: client, Handler: handler, Config: cfg, Self: self}, nil
	case <-handler.Done():
		return nil, fmt.Errorf("connect to %s: connection closed before welcome", cfg.Server)
	case <-timer.C:
		client.Close()
		return nil, errNoWelcome
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}
}

func (c *Connection) Close() {
	c.Client.Close()
	<-c.Handler.Done()
}
