package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/ui"
)

const usersWait = 5 * time.Second

var usersCmd = &cobra.Command{
	Use:     "users",
	Aliases: []string{"u", "who"},
	Short:   "List people waiting to be matched",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		return listUsers(cmd.Context(), cfg)
	},
}

func listUsers(ctx context.Context, cfg *config.Config) error {
	conn, err := Connect(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer conn.Close()

	sp := ui.NewWaitingSpinner(ui.IconWaiting + " Fetching the waiting list...")
	sp.Start()
	defer sp.Stop()

	// The server broadcasts the idle list right after admitting a visitor.
	select {
	case users := <-conn.Handler.Users:
		sp.Stop()
		fmt.Println(ui.UsersView(conn.Self, users))
		return nil
	case <-conn.Handler.Done():
		return fmt.Errorf("connection to %s closed", cfg.Server)
	case <-time.After(usersWait):
		return fmt.Errorf("no user list from %s within %s", cfg.Server, usersWait)
	}
}
