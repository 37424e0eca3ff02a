// peerchat is the command line peer for the chat service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/peerchat/internal/config"
	"github.com/eldtechnologies/peerchat/internal/identity"
	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
)

// resendConcurrency bounds parallel uploads for resend --all.
const resendConcurrency = 4

// errUsage is returned after the usage text has been printed.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()

	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// run executes one command. Everything it opens is closed before it returns.
func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return errUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "help", "--help", "-h":
		usage()
		return nil
	case "version":
		v := identity.VersionCode
		if v == "" {
			v = "dev"
		}
		fmt.Println("peerchat", v)
		return nil
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	// Arguments are checked before the local store is opened
	var post *models.Message
	switch cmd {
	case "register":
		if len(args) < 1 {
			return usageError("peerchat register <chat-name> [server-url]")
		}
	case "post":
		if post, err = parsePost(args, cfg.DefaultChatroom); err != nil {
			return err
		}
	case "resend":
		if len(args) < 1 {
			return usageError("peerchat resend <local-id> | --all")
		}
	case "messages", "pending", "fetch", "settings":
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "register":
		serverURL := a.serverURI()
		if len(args) > 1 {
			serverURL = args[1]
		}
		if err := failure(a.proc.Process(ctx, request.NewRegister(serverURL, args[0]))); err != nil {
			return err
		}
		fmt.Printf("Registered as %s with %s\n", a.settings.ChatName(), a.settings.ServerURI())

	case "post":
		resp := a.proc.Process(ctx, request.NewPostMessage(post))
		if r, ok := resp.(*request.PostMessageResponse); ok {
			fmt.Printf("Posted #%d (local %d)\n", r.MessageID, post.ID)
			return nil
		}
		if post.ID != 0 {
			fmt.Fprintf(os.Stderr, "Saved locally as %d; resend with: peerchat resend %d\n", post.ID, post.ID)
		}
		return failure(resp)

	case "messages":
		msgs, err := a.store.ListMessages(ctx, chatroomArg(args, cfg.DefaultChatroom))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printLocal(m)
		}

	case "pending":
		msgs, err := a.store.ListUnsequenced(ctx)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printLocal(m)
		}

	case "resend":
		if args[0] == "--all" {
			return resendAll(ctx, a)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid local id %q", args[0])
		}
		resp := a.proc.Process(ctx, request.NewPostMessage(&models.Message{ID: id}))
		if err := failure(resp); err != nil {
			return err
		}
		fmt.Printf("Posted #%d (local %d)\n", resp.(*request.PostMessageResponse).MessageID, id)

	case "fetch":
		resp, err := a.client.GetMessages(ctx, a.serverURI(), chatroomArg(args, cfg.DefaultChatroom), 0, 50)
		if err != nil {
			return err
		}
		for _, m := range resp.Messages {
			ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("#%d [%s] %s: %s\n", m.SeqNum, ts, m.Sender, m.Text)
		}
		if resp.HasMore {
			fmt.Println("...")
		}

	case "settings":
		printJSON(map[string]string{
			"app_id":     a.settings.AppID(),
			"server_uri": a.settings.ServerURI(),
			"chat_name":  a.settings.ChatName(),
			"home":       cfg.Home,
		})
	}
	return nil
}

// parsePost builds the message for "post <text> [chatroom]". Text the server
// would refuse is rejected here so it never sits in the local store unsent.
func parsePost(args []string, defaultChatroom string) (*models.Message, error) {
	if len(args) < 1 {
		return nil, usageError("peerchat post <text> [chatroom]")
	}
	text := args[0]
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("message text is empty")
	}
	if len(text) > models.MaxTextLength {
		return nil, fmt.Errorf("message text too long (max %d bytes)", models.MaxTextLength)
	}
	return models.NewMessage(text, chatroomArg(args[1:], defaultChatroom), ""), nil
}

func chatroomArg(args []string, defaultChatroom string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultChatroom
}

// resendAll resubmits every unsequenced message, a few at a time. Each
// message is reported on its own.
func resendAll(ctx context.Context, a *app) error {
	pending, err := a.store.ListUnsequenced(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Nothing to resend")
		return nil
	}

	var (
		mu     sync.Mutex
		failed int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resendConcurrency)

	for _, m := range pending {
		id := m.ID
		g.Go(func() error {
			resp := <-a.proc.Go(ctx, request.NewPostMessage(&models.Message{ID: id}))

			mu.Lock()
			defer mu.Unlock()
			switch r := resp.(type) {
			case *request.PostMessageResponse:
				fmt.Printf("Posted #%d (local %d)\n", r.MessageID, id)
			case *request.ErrorResponse:
				failed++
				fmt.Fprintf(os.Stderr, "local %d: %s\n", id, r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d messages not sent", failed, len(pending))
	}
	return nil
}

func printLocal(m models.Message) {
	seq := "pending"
	if m.SeqNum != nil {
		seq = "#" + strconv.FormatInt(*m.SeqNum, 10)
	}
	ts := m.Timestamp.Local().Format("2006-01-02 15:04:05")
	fmt.Printf("%4d %-8s [%s] %s@%s: %s\n", m.ID, seq, ts, m.Sender, m.Chatroom, m.Text)
}

func usage() {
	fmt.Println(`peerchat - chat peer

Usage: peerchat <command> [options]

Commands:
  register <chat-name> [server-url]   Register with the chat server
  post <text> [chatroom]              Record and upload a message
  messages [chatroom]                 List local messages
  pending                             List messages not yet sequenced
  resend <local-id> | --all           Upload unsequenced messages again
  fetch [chatroom]                    Read the server's view of a chatroom
  settings                            Show the saved settings
  version                             Print the build version

Environment:
  PEERCHAT_HOME              Data directory (default: ~/.peerchat)
  PEERCHAT_URL               Server URL before registration (default: http://localhost:8080)
  PEERCHAT_LATITUDE          Fallback latitude
  PEERCHAT_LONGITUDE         Fallback longitude
  PEERCHAT_DEFAULT_CHATROOM  Chatroom for post/messages/fetch (default: _default)
  PEERCHAT_TIMEOUT           Request timeout (default: 10s)
  LOG_LEVEL                  Log level for PEERCHAT_HOME/peerchat.log`)
}

func usageError(line string) error {
	return fmt.Errorf("usage: %s", line)
}

// failure returns the error carried by an error response, nil otherwise.
func failure(resp request.Response) error {
	if errResp, ok := resp.(*request.ErrorResponse); ok {
		return errors.New(errResp.String())
	}
	return nil
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
