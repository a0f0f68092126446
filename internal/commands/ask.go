package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/zapup-go/internal/app"
	"github.com/comigor/zapup-go/internal/conversation"
	"github.com/comigor/zapup-go/internal/ingest"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/voice"
)

var (
	askModelFlag string
	askFileFlag  string
	askSpeakFlag bool
)

var errQueryFailed = errors.New("query failed")

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Send a single query",
	Long: `Send a single query and print the reply. The query is read from the
argument or, when absent, from stdin. Attach an image or a text file with -f.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askModelFlag, "model", "m", "", "Model to use (default from config)")
	askCmd.Flags().StringVarP(&askFileFlag, "file", "f", "", "Image or text file to attach")
	askCmd.Flags().BoolVarP(&askSpeakFlag, "speak", "s", false, "Read the reply aloud")
}

func runAsk(cmd *cobra.Command, args []string) error {
	query, err := readQuery(args)
	if err != nil {
		return err
	}

	var att *ingest.Attachment
	if askFileFlag != "" {
		if att, err = readAttachment(askFileFlag); err != nil {
			return err
		}
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	sessions := a.Sessions()
	defer sessions.Close()

	sess, err := sessions.Create()
	if err != nil {
		return err
	}
	if askModelFlag != "" {
		if err := sess.Selection.Select(askModelFlag); err != nil {
			return err
		}
	}

	reply, err := sess.Orchestrator.Submit(cmd.Context(), query, att)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), newRenderer(80).Message(reply))

	if reply.Role == conversation.RoleError {
		return errQueryFailed
	}
	if askSpeakFlag {
		speakAndWait(a, sess.Voice(), reply.Text)
	}
	return nil
}

func readQuery(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	stat, _ := os.Stdin.Stat()
	if stat == nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("no query given")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func speakAndWait(a *app.App, settings voice.Settings, text string) {
	if settings.Muted {
		return
	}
	synth := a.Synthesizer(voice.CommandPlayer{Command: a.Config.Voice.PlayerCommand})
	done := make(chan struct{})
	u := voice.Utterance{Text: text, Rate: settings.Rate, Pitch: settings.Pitch, Volume: 1}
	if err := synth.Speak(u, func() { close(done) }); err != nil {
		logger.L.Warn("speech failed", "error", err)
		return
	}
	<-done
}
