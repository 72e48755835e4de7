package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tether-chat/tether/pkg/chat"
	"github.com/tether-chat/tether/pkg/rest"
	"github.com/tether-chat/tether/pkg/session"
)

func sendCmd() *cobra.Command {
	var (
		server string
		name   string
		files  []string
	)

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <message>",
		Short: "Send one message, optionally with attachments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if server != "" {
				cfg.Server = server
				cfg.Socket = deriveSocketURL(server)
			}
			if name != "" {
				cfg.Name = name
			}
			if cfg.Name == "" {
				return errors.New("no account name: set --name or config")
			}
			return runSend(cmd.Context(), cfg, args[0], args[1], files)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server base URL (overrides config)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Account name (overrides config)")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Attach a file (repeatable)")
	return cmd
}

func runSend(ctx context.Context, cfg *fileConfig, conversationID, content string, files []string) error {
	api := rest.New(cfg.Server)
	login, err := api.Login(ctx, cfg.Name)
	if err != nil {
		return err
	}

	sess := session.New(session.DefaultConfig().WithURL(cfg.Socket))
	defer sess.Close()
	if err := sess.Connect(ctx, api.Token()); err != nil {
		return err
	}

	engine := chat.NewEngine(chat.DefaultConfig().WithAPI(api).WithSession(sess))
	conv := engine.Open(conversationID)
	defer engine.Close(conversationID)

	if len(files) == 0 {
		if err := conv.Send(content); err != nil {
			return err
		}
		// Fire-and-forget: give the send a moment to reach the wire.
		time.Sleep(200 * time.Millisecond)
		color.Green("sent as %s", login.User.Name)
		return nil
	}

	attachments := make([]*chat.Attachment, 0, len(files))
	handles := make([]*os.File, 0, len(files))
	defer func() {
		for _, f := range handles {
			f.Close()
		}
	}()
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		handles = append(handles, f)
		attachments = append(attachments, &chat.Attachment{
			Filename: filepath.Base(path),
			Content:  f,
		})
	}

	msg, err := conv.SendWithAttachments(ctx, content, attachments)
	for _, att := range attachments {
		switch att.State {
		case chat.AttachmentUploaded:
			color.Green("  ✓ %s (%s)", att.Filename, att.MediaID)
		case chat.AttachmentFailed:
			color.Red("  ✗ %s: %v", att.Filename, att.Err)
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("sent %s with %d attachment(s)\n", msg.ID, len(msg.Media))
	return nil
}
