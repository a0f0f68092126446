package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/comigor/zapup-go/internal/conversation"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/orchestrator"
	"github.com/comigor/zapup-go/internal/session"
	"github.com/comigor/zapup-go/internal/voice"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat session. Type a question and press enter, or use
/listen to speak it. Type /help for the list of commands.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

type slashCommand struct {
	usage string
	help  string
	run   func(c *chatREPL, ctx context.Context, arg string) error
}

var errQuit = errors.New("quit")

var slashCommands map[string]slashCommand

// populated in init: cmdHelp reads the table
func init() {
	slashCommands = map[string]slashCommand{
		"/help":      {"/help", "show this help", (*chatREPL).cmdHelp},
		"/model":     {"/model [id]", "show or change the model", (*chatREPL).cmdModel},
		"/models":    {"/models [search]", "search the model catalog", (*chatREPL).cmdModels},
		"/file":      {"/file <path>", "attach an image or text file to the next query", (*chatREPL).cmdFile},
		"/detach":    {"/detach", "drop the staged attachment", (*chatREPL).cmdDetach},
		"/history":   {"/history", "print the conversation so far", (*chatREPL).cmdHistory},
		"/listen":    {"/listen", "record a spoken query and submit it", (*chatREPL).cmdListen},
		"/speak":     {"/speak", "read the last reply aloud, or stop reading", (*chatREPL).cmdSpeak},
		"/mute":      {"/mute", "mute speech output", (*chatREPL).cmdMute},
		"/unmute":    {"/unmute", "unmute speech output", (*chatREPL).cmdUnmute},
		"/rate":      {"/rate <0.5-2>", "set the speech rate", (*chatREPL).cmdRate},
		"/pitch":     {"/pitch <0.5-2>", "set the speech pitch", (*chatREPL).cmdPitch},
		"/autospeak": {"/autospeak on|off", "read replies to spoken queries aloud", (*chatREPL).cmdAutoSpeak},
		"/quit":      {"/quit", "leave the chat", func(*chatREPL, context.Context, string) error { return errQuit }},
	}
}

// chatREPL is one interactive terminal session.
type chatREPL struct {
	sess   *session.Session
	bridge *voice.Bridge
	render *renderer
	out    io.Writer

	// typed is set while a keyboard submission runs; its user message is not echoed.
	typed atomic.Bool

	mu        sync.Mutex
	lastReply string
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	sessions := a.Sessions()
	defer sessions.Close()

	c := &chatREPL{render: newRenderer(80), out: cmd.OutOrStdout()}
	c.sess, err = sessions.Create(orchestrator.WithObserver(c.observe))
	if err != nil {
		return err
	}

	player := voice.CommandPlayer{Command: a.Config.Voice.PlayerCommand}
	c.bridge, err = voice.NewBridge(a.Recognizer(), a.Synthesizer(player), c.sess.Orchestrator, c.sess.Voice(),
		voice.WithToggleDebounce(a.Config.Voice.ToggleDebounce))
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	fmt.Fprintln(c.out, dimStyle.Render("zapup chat on "+c.sess.Selection.Current()+". /help for commands, Ctrl+D to leave."))
	for {
		input, err := line.Prompt(promptStyle.Render("zapup> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(c.out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if err := c.handle(cmd.Context(), input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(c.out, errorStyle.Render(err.Error()))
		}
	}
}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for name := range slashCommands {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// handle runs a slash command or submits input as a query.
func (c *chatREPL) handle(ctx context.Context, input string) error {
	if strings.HasPrefix(input, "/") {
		name, arg, _ := strings.Cut(input, " ")
		sc, ok := slashCommands[name]
		if !ok {
			return fmt.Errorf("unknown command %s, try /help", name)
		}
		return sc.run(c, ctx, strings.TrimSpace(arg))
	}

	c.sess.Orchestrator.SetDraft(input)
	c.typed.Store(true)
	defer c.typed.Store(false)
	_, err := c.sess.Orchestrator.SubmitDraft(ctx)
	return err
}

func (c *chatREPL) observe(e orchestrator.Event) {
	switch e.Kind {
	case orchestrator.TypingChanged:
		if e.Typing {
			fmt.Fprintln(c.out, dimStyle.Render("thinking..."))
		}
	case orchestrator.MessageAppended:
		if e.Message.Role == conversation.RoleUser && c.typed.Load() {
			return
		}
		if e.Message.Role == conversation.RoleAssistant {
			c.mu.Lock()
			c.lastReply = e.Message.Text
			c.mu.Unlock()
		}
		fmt.Fprintln(c.out, c.render.Message(e.Message))
	}
}

func (c *chatREPL) cmdHelp(context.Context, string) error {
	names := make([]string, 0, len(slashCommands))
	for name := range slashCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := slashCommands[name]
		fmt.Fprintf(c.out, "  %-20s %s\n", sc.usage, dimStyle.Render(sc.help))
	}
	return nil
}

func (c *chatREPL) cmdModel(_ context.Context, arg string) error {
	if arg != "" {
		if err := c.sess.Selection.Select(arg); err != nil {
			return err
		}
	}
	fmt.Fprintln(c.out, "model: "+c.sess.Selection.Current())
	return nil
}

func (c *chatREPL) cmdModels(_ context.Context, arg string) error {
	providers := c.sess.Selection.Catalog().Search(arg)
	if len(providers) == 0 {
		return fmt.Errorf("no models match %q", arg)
	}
	fmt.Fprint(c.out, formatProviders(providers, c.sess.Selection.Current()))
	return nil
}

func (c *chatREPL) cmdFile(_ context.Context, arg string) error {
	if arg == "" {
		return errors.New("usage: /file <path>")
	}
	att, err := readAttachment(arg)
	if err != nil {
		return err
	}
	c.sess.Orchestrator.Attach(*att)
	kind := "text"
	if att.Category() == ingest.CategoryImage {
		kind = "image"
	}
	fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("attached %s (%s); it goes with the next query", att.Name, kind)))
	return nil
}

func (c *chatREPL) cmdDetach(context.Context, string) error {
	c.sess.Orchestrator.Detach()
	fmt.Fprintln(c.out, dimStyle.Render("attachment dropped"))
	return nil
}

func (c *chatREPL) cmdHistory(ctx context.Context, _ string) error {
	msgs, err := c.sess.Orchestrator.Transcript(ctx)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Fprintln(c.out, c.render.Message(msgs[i]))
	}
	return nil
}

func (c *chatREPL) cmdListen(ctx context.Context, _ string) error {
	if err := c.bridge.StartListening(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, dimStyle.Render("listening..."))
	return nil
}

func (c *chatREPL) cmdSpeak(context.Context, string) error {
	c.mu.Lock()
	text := c.lastReply
	c.mu.Unlock()
	if text == "" {
		return errors.New("nothing to read yet")
	}
	return c.bridge.ToggleSpeak(text)
}

func (c *chatREPL) cmdMute(context.Context, string) error {
	c.bridge.SetMuted(true)
	return c.syncVoice()
}

func (c *chatREPL) cmdUnmute(context.Context, string) error {
	c.bridge.SetMuted(false)
	return c.syncVoice()
}

func (c *chatREPL) cmdRate(_ context.Context, arg string) error {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return errors.New("usage: /rate <0.5-2>")
	}
	if err := c.bridge.SetRate(v); err != nil {
		return err
	}
	return c.syncVoice()
}

func (c *chatREPL) cmdPitch(_ context.Context, arg string) error {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return errors.New("usage: /pitch <0.5-2>")
	}
	if err := c.bridge.SetPitch(v); err != nil {
		return err
	}
	return c.syncVoice()
}

func (c *chatREPL) cmdAutoSpeak(_ context.Context, arg string) error {
	switch arg {
	case "on":
		c.bridge.SetAutoSpeak(true)
	case "off":
		c.bridge.SetAutoSpeak(false)
	default:
		return errors.New("usage: /autospeak on|off")
	}
	return c.syncVoice()
}

// syncVoice copies the bridge settings to the session and prints them.
func (c *chatREPL) syncVoice() error {
	s := c.bridge.Settings()
	if err := c.sess.SetVoice(s); err != nil {
		return err
	}
	fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("voice: rate %.2f, pitch %.2f, muted %t, autospeak %t", s.Rate, s.Pitch, s.Muted, s.AutoSpeak)))
	return nil
}
