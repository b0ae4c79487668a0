package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pingchat/internal/chat"
	"pingchat/internal/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

const chatHelp = `commands:
  /contacts [filter]  list contacts, online first
  /open <id|name>     open a conversation
  /reply <msgid>      quote a message in the next send
  /cancel             drop the pending reply
  /quit               leave (the session is kept)
anything else is sent to the open contact`

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	view := newTermView(out)
	c, err := openClient(view)
	if err != nil {
		return err
	}
	defer c.close()

	user, err := c.app.Start(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if user == nil {
		return errors.New("not logged in, run `ping login` first")
	}
	fmt.Fprintln(out, chatHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, c.app, view, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one REPL line. It reports whether the user asked to quit.
func handleLine(ctx context.Context, app *chat.App, view *termView, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return false
		}
		app.Typing()
		if _, err := app.Compose(line); err != nil {
			view.Toast(chat.LevelError, chat.Describe(err))
		}
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		view.println(chatHelp)
	case "/contacts":
		online, offline := app.Filter(arg)
		view.printContacts(online, offline)
	case "/open":
		id, err := resolveContact(app, arg)
		if err == nil {
			err = app.Open(ctx, id)
		}
		if err != nil {
			view.Toast(chat.LevelError, chat.Describe(err))
		}
	case "/reply":
		snippet, ok := app.ReplyTo(models.MessageID(arg))
		if !ok {
			view.Toast(chat.LevelError, "no such message in this conversation")
			return false
		}
		view.println("replying to: " + snippet)
	case "/cancel":
		app.CancelReply()
		view.println("reply cancelled")
	default:
		view.Toast(chat.LevelError, "unknown command "+command+", try /help")
	}
	return false
}

func resolveContact(app *chat.App, arg string) (int64, error) {
	if arg == "" {
		return 0, chat.ErrUnknownContact
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	c, ok := app.Directory().Find(arg)
	if !ok {
		return 0, chat.ErrUnknownContact
	}
	return c.ID, nil
}

// termView prints state changes as plain lines.
type termView struct {
	mu      sync.Mutex
	out     io.Writer
	self    int64
	peer    int64
	printed []models.Status
}

func newTermView(out io.Writer) *termView {
	return &termView{out: out}
}

func (v *termView) println(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, s)
}

func (v *termView) Session(user *models.User) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if user == nil {
		v.self = 0
		return
	}
	v.self = user.ID
	fmt.Fprintf(v.out, "signed in as %s\n", user.Username)
}

// Contacts is only printed on request.
func (v *termView) Contacts(online, offline []chat.ContactItem) {}

func (v *termView) printContacts(online, offline []models.Contact) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(online)+len(offline) == 0 {
		fmt.Fprintln(v.out, "no contacts")
		return
	}
	for _, group := range []struct {
		title string
		list  []models.Contact
	}{{"online", online}, {"offline", offline}} {
		if len(group.list) == 0 {
			continue
		}
		fmt.Fprintf(v.out, "-- %s\n", group.title)
		for _, c := range group.list {
			unread := ""
			if c.Unread > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.Unread)
			}
			fmt.Fprintf(v.out, "  %d  %s%s\n", c.ID, c.Username, unread)
		}
	}
}

// Thread prints only what has not been shown yet, plus a note when one of
// the user's shown messages has been read. A reload or a different peer
// reprints the whole conversation.
func (v *termView) Thread(peer models.Contact, msgs []models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if peer.ID != v.peer || len(msgs) < len(v.printed) {
		v.peer = peer.ID
		v.printed = v.printed[:0]
		fmt.Fprintf(v.out, "== %s\n", peer.Username)
	}
	for i, status := range v.printed {
		m := msgs[i]
		if m.From == v.self && status != models.StatusRead && m.Status == models.StatusRead {
			fmt.Fprintf(v.out, "    [%s] read ✓✓\n", m.ID)
		}
		v.printed[i] = m.Status
	}
	for _, m := range msgs[len(v.printed):] {
		v.printMessage(peer, m)
		v.printed = append(v.printed, m.Status)
	}
}

func (v *termView) printMessage(peer models.Contact, m models.Message) {
	who := peer.Username
	mark := ""
	if m.From == v.self {
		who = "you"
		mark = " ✓"
		if m.Status == models.StatusRead {
			mark = " ✓✓"
		}
	}
	if m.ReplyTo != "" {
		fmt.Fprintf(v.out, "    > %s\n", m.ReplyTo)
	}
	fmt.Fprintf(v.out, "[%s] %s %s: %s%s\n", m.ID, m.Time, who, m.Text, mark)
}

func (v *termView) Presence(peer models.Contact) {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := "offline"
	if peer.IsOnline {
		state = "online"
	}
	fmt.Fprintf(v.out, "* %s is %s\n", peer.Username, state)
}

func (v *termView) PeerTyping(peer models.Contact, typing bool) {
	if !typing {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "* %s is typing...\n", peer.Username)
}

func (v *termView) Toast(level chat.Level, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "[%s] %s\n", level, text)
	log.Debug().Str("level", string(level)).Msg(text)
}
