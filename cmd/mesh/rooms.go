package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/Mesh/internal/adapters/realtime"
	"github.com/dkeye/Mesh/internal/adapters/term"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the active rooms of the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		rooms, err := realtime.ListRooms(ctx, http.DefaultClient, cfg.Client.ServerURL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), term.RoomsView(rooms))
		return nil
	},
}
