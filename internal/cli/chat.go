package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/moviechat/internal/client"
	"github.com/raphaelgruber/moviechat/internal/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	chatCmdReset = "/reset"
	chatCmdExit  = "/exit"
	chatCmdQuit  = "/quit"
)

var (
	chatRemote string
	chatPlain  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation about movies",
	Long: `Start an interactive conversation. Follow-up questions can refer to
earlier answers.

Type /reset to forget the conversation and /exit to leave.

With --remote the conversation runs on a moviechat server over WebSocket.

Examples:
  moviechat chat
  moviechat chat --remote http://localhost:8484
  moviechat chat --plain < questions.txt`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatRemote, "remote", "", "chat with a moviechat server at this URL")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line-based prompt instead of the full-screen UI")
}

// chatBackend is a conversation, local or on a server.
type chatBackend interface {
	SessionID() string
	Ask(ctx context.Context, query string) (answerView, error)
	Reset(ctx context.Context) error
	Close() error
}

// localChat runs a session in process.
type localChat struct {
	sessions *session.Manager
	sess     *session.Session
}

func newLocalChat(sessions *session.Manager) *localChat {
	return &localChat{sessions: sessions, sess: sessions.Create()}
}

func (c *localChat) SessionID() string { return c.sess.ID() }

func (c *localChat) Ask(ctx context.Context, query string) (answerView, error) {
	return viewFromReply(c.sess.Ask(ctx, query)), nil
}

func (c *localChat) Reset(context.Context) error {
	c.sess.Reset()
	return nil
}

func (c *localChat) Close() error {
	return c.sessions.Delete(c.sess.ID())
}

// remoteChat runs a session on a server over WebSocket.
type remoteChat struct {
	conn *client.ChatConn
}

func (c *remoteChat) SessionID() string { return c.conn.SessionID() }

func (c *remoteChat) Ask(ctx context.Context, query string) (answerView, error) {
	reply, err := c.conn.Send(ctx, query)
	if err != nil {
		return answerView{}, err
	}
	return viewFromClientReply(reply), nil
}

func (c *remoteChat) Reset(ctx context.Context) error { return c.conn.Reset(ctx) }

func (c *remoteChat) Close() error { return c.conn.Close() }

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	backend, err := openChat(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	if !chatPlain && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd())) {
		return runChatUI(ctx, backend)
	}
	return runREPL(ctx, backend, os.Stdin, os.Stdout)
}

func openChat(ctx context.Context) (chatBackend, error) {
	if chatRemote != "" {
		conn, err := client.New(chatRemote).Chat(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		return &remoteChat{conn: conn}, nil
	}

	a, err := getApp(ctx)
	if err != nil {
		return nil, err
	}
	return newLocalChat(a.Sessions), nil
}

// parseChatInput classifies one line of user input.
func parseChatInput(line string) (command string, query string) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case chatCmdReset:
		return chatCmdReset, ""
	case chatCmdExit, chatCmdQuit:
		return chatCmdExit, ""
	}
	return "", line
}

// runREPL reads questions line by line until EOF or /exit.
func runREPL(ctx context.Context, backend chatBackend, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "moviechat (session %s). Type /reset to start over, /exit to quit.\n", backend.SessionID())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		command, query := parseChatInput(scanner.Text())
		switch {
		case command == chatCmdExit:
			return nil
		case command == chatCmdReset:
			if err := backend.Reset(ctx); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		case query == "":
			continue
		}

		view, err := backend.Ask(ctx, query)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("ask: %w", err)
		}
		printAnswer(out, view, verbose)
		fmt.Fprintln(out)
	}
}
