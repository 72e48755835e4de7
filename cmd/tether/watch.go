package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tether-chat/tether/pkg/chat"
	"github.com/tether-chat/tether/pkg/rest"
	"github.com/tether-chat/tether/pkg/session"
)

func watchCmd() *cobra.Command {
	var (
		server string
		name   string
	)

	cmd := &cobra.Command{
		Use:   "watch <conversation-id>",
		Short: "Follow a conversation in the terminal",
		Long: `Follow a conversation: history first, then live messages, edits,
deletes, read receipts and typing signals as they happen. Reconnects
with backoff if the server goes away.`,
		Args: cobra.ExactArgs(1),
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
			return runWatch(cfg, args[0])
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server base URL (overrides config)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Account name (overrides config)")
	return cmd
}

func runWatch(cfg *fileConfig, conversationID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := rest.New(cfg.Server)
	login, err := api.Login(ctx, cfg.Name)
	if err != nil {
		return err
	}

	dim := color.New(color.Faint)
	sessCfg := session.DefaultConfig().WithURL(cfg.Socket)
	sessCfg.OnStateChange = func(st session.State) {
		dim.Fprintf(os.Stderr, "· %s\n", st)
	}
	sessCfg.OnError = func(err error) {
		color.Red("! %v", err)
	}
	sess := session.New(sessCfg)
	defer sess.Close()
	if err := sess.Connect(ctx, api.Token()); err != nil {
		return err
	}

	self := color.New(color.FgCyan, color.Bold)
	other := color.New(color.FgGreen, color.Bold)
	printMessage := func(m *chat.Message) {
		stamp := m.CreatedAt.Local().Format("15:04")
		author := other
		if m.SenderID == login.User.ID {
			author = self
		}
		switch {
		case m.IsDeleted:
			dim.Printf("%s %s deleted a message\n", stamp, m.SenderName)
		case m.IsEdited:
			fmt.Printf("%s %s %s %s\n", stamp, author.Sprint(m.SenderName), m.Content, dim.Sprint("(edited)"))
		default:
			fmt.Printf("%s %s %s", stamp, author.Sprint(m.SenderName), m.Content)
			for _, media := range m.Media {
				fmt.Printf(" %s", dim.Sprintf("[%s]", media.Name))
			}
			fmt.Println()
		}
	}

	seen := make(map[string]time.Time)
	chatCfg := chat.DefaultConfig().WithAPI(api).WithSession(sess)
	var conv *chat.Conversation
	chatCfg.OnChange = func(string) {
		for _, m := range conv.Messages() {
			if at, ok := seen[m.ID]; ok && at.Equal(m.UpdatedAt) {
				continue
			}
			seen[m.ID] = m.UpdatedAt
			printMessage(m)
		}
	}
	chatCfg.OnTyping = func(_, _, userName string, started bool) {
		if started {
			dim.Fprintf(os.Stderr, "· %s is typing…\n", userName)
		}
	}

	engine := chat.NewEngine(chatCfg)
	conv = engine.Open(conversationID)
	defer engine.Close(conversationID)

	history, err := conv.LoadMessages(ctx)
	if err != nil {
		return err
	}
	for _, m := range history {
		seen[m.ID] = m.UpdatedAt
		printMessage(m)
	}
	dim.Fprintln(os.Stderr, "· watching, ctrl-c to quit")

	<-ctx.Done()
	return nil
}
