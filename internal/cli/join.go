package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pattersondev/voynich-client/internal/api"
	"github.com/pattersondev/voynich-client/internal/attach"
	"github.com/pattersondev/voynich-client/internal/live"
	clog "github.com/pattersondev/voynich-client/internal/log"
	"github.com/pattersondev/voynich-client/internal/models"
	"github.com/pattersondev/voynich-client/internal/session"
)

var joinCmd = &cobra.Command{
	Use:   "join <chat-id>",
	Short: "Join a chat room and talk until it expires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID := args[0]
		logger := clog.Quiet()
		store := openIdentity(logger)
		defer store.Close()

		client := api.NewClient(serverURL, store)
		sess := session.New(chatID, session.Deps{
			Identity: store,
			Dial: func(h live.Handler) live.Channel {
				return live.Dial(client.SocketURL(), h, logger)
			},
			Snapshot: client.Snapshot,
			Logger:   logger,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		sess.Start(ctx)
		defer sess.Teardown()
		fmt.Printf("joining %s as %s\n", chatID, sess.UserID())

		go renderLoop(ctx, cancel, sess)
		inputLoop(ctx, cancel, sess)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

// renderLoop prints engine updates: new messages as they stream in and
// state transitions as they happen. Terminal states end the session.
func renderLoop(ctx context.Context, cancel context.CancelFunc, sess *session.Session) {
	var printed int
	var lastState session.State = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
		}
		view := sess.View()

		if view.State != lastState {
			lastState = view.State
			switch view.State {
			case session.StateSyncing:
				fmt.Println("connected, syncing history...")
			case session.StateActive:
				fmt.Printf("-- %d online, expires in %s --\n", view.Online, view.TimeLeft)
			case session.StateExpired, session.StateError:
				fmt.Println("This chat no longer exists.")
				fmt.Println("Create a new one with: voynich create")
				cancel()
				return
			}
		}

		for ; printed < len(view.Messages); printed++ {
			printMessage(view.Messages[printed])
		}
	}
}

func printMessage(msg models.Message) {
	who := "User " + shortSender(msg.Sender)
	if msg.IsSelf {
		who = "Me"
	}
	line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format("15:04"), who, msg.Content)
	if msg.Attachment != nil {
		line += fmt.Sprintf(" (attachment: %s, %s)", msg.Attachment.Name, msg.Attachment.Type)
	}
	fmt.Println(line)
}

func shortSender(sender string) string {
	if len(sender) > 4 {
		return sender[:4]
	}
	return sender
}

// inputLoop reads stdin: plain lines are submitted, /attach stages a
// file for the next send, /time and /who inspect the session, /quit
// leaves.
func inputLoop(ctx context.Context, cancel context.CancelFunc, sess *session.Session) {
	var staged *models.Attachment
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		cancel()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case line = <-lines:
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "/quit":
			cancel()
			return
		case line == "/time":
			view := sess.View()
			fmt.Printf("expires in %s\n", view.TimeLeft)
			continue
		case line == "/who":
			view := sess.View()
			fmt.Printf("%d online, you are %s\n", view.Online, sess.UserID())
			continue
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			att, err := attach.Load(path)
			if err != nil {
				if errors.Is(err, attach.ErrPayloadTooLarge) {
					fmt.Println("file exceeds the 10 MiB attachment limit")
				} else {
					fmt.Println("cannot attach:", err)
				}
				continue
			}
			staged = att
			fmt.Printf("staged %s (%s), it rides along with your next message\n", att.Name, att.Type)
			continue
		}

		if err := sess.Submit(line, staged); err != nil {
			switch {
			case errors.Is(err, session.ErrEmptyMessage):
				continue
			case errors.Is(err, session.ErrNotReady):
				fmt.Println("still syncing, message not sent")
				continue
			case errors.Is(err, session.ErrSessionClosed):
				return
			default:
				fmt.Println("send failed:", err)
				continue
			}
		}
		// Rendered once the server echo comes back on the stream.
		staged = nil
	}
}
