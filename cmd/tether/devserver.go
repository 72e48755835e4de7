package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tether-chat/tether/internal/devserver"
)

func devserverCmd() *cobra.Command {
	var (
		addr     string
		mediaDir string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local in-memory chat server",
		Long: `Run a self-contained chat server with in-memory state.

Accounts are created on first login, nothing is persisted, and
attachments land in a local directory. Point watch and send at it:

  tether devserver --addr :8787
  tether watch --server http://localhost:8787 --name ana <conversation>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			media, err := devserver.NewDiskStore(mediaDir, 50<<20)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			server := devserver.New(&devserver.Config{
				Logger: logger,
				Media:  media,
			})

			color.Green("tether devserver listening on %s", addr)
			fmt.Printf("  REST   http://localhost%s/api\n", addr)
			fmt.Printf("  Socket ws://localhost%s/ws\n", addr)
			fmt.Printf("  Media  %s\n", mediaDir)
			return http.ListenAndServe(addr, server.Handler())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8787", "Address to listen on")
	cmd.Flags().StringVar(&mediaDir, "media-dir", ".tether-media", "Directory for uploaded attachments")
	return cmd
}
