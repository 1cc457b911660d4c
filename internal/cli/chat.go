package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/client"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the assistant",
	Long: `Without arguments chat-cli reads one message per line from stdin until EOF.
Type /reset to start a new conversation and /quit to leave. On a fresh
conversation /1, /2 or /3 sends the matching example prompt.
With arguments the joined arguments are sent as a single message.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	p := &printer{w: out}
	c := newConsumer(p.update)
	c.Init(ctx)

	if len(args) > 0 {
		return send(ctx, c, p, strings.Join(args, " "))
	}

	printWelcome(out, c)
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "\n> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := c.Reset(); err != nil {
				return err
			}
			printWelcome(out, c)
			continue
		}
		if prompt, ok := examplePrompt(line); ok {
			if !c.ShowExamples() {
				fmt.Fprintln(out, "Näited on saadaval ainult uue vestluse alguses.")
				continue
			}
			fmt.Fprintf(out, "sina: %s\n", prompt)
			line = prompt
		}
		if err := send(ctx, c, p, line); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

func send(ctx context.Context, c *client.Consumer, p *printer, text string) error {
	p.begin()
	err := c.Send(ctx, text)
	p.end()
	if errors.Is(err, client.ErrEmptyMessage) {
		return nil
	}
	return err
}

// printer renders the assistant reply as deltas arrive. OnUpdate carries
// the full text so far; only the unseen suffix is written.
type printer struct {
	w      io.Writer
	active bool
	turnID string
	shown  string
}

func (p *printer) begin() {
	p.active = true
	p.turnID = ""
	p.shown = ""
}

func (p *printer) end() {
	if p.active && p.turnID != "" {
		fmt.Fprintln(p.w)
	}
	p.active = false
}

func (p *printer) update(t client.Turn) {
	if !p.active || t.Role != chat.RoleAssistant {
		return
	}
	if p.turnID != t.ID {
		p.turnID = t.ID
		p.shown = ""
		fmt.Fprint(p.w, "tehiskokk: ")
	}
	if strings.HasPrefix(t.Content, p.shown) {
		fmt.Fprint(p.w, t.Content[len(p.shown):])
	} else {
		// a failure notice replaces the partial reply
		if p.shown != "" {
			fmt.Fprint(p.w, "\n")
		}
		fmt.Fprint(p.w, t.Content)
	}
	p.shown = t.Content
}

// printWelcome shows the transcript, followed by the example prompts while
// the conversation is fresh.
func printWelcome(w io.Writer, c *client.Consumer) {
	printTranscript(w, c.Transcript())
	if !c.ShowExamples() {
		return
	}
	fmt.Fprintf(w, "\n%s\n", client.ExamplesTitle)
	for i, prompt := range client.ExamplePrompts {
		fmt.Fprintf(w, "  /%d  %q\n", i+1, prompt)
	}
}

// examplePrompt maps /1, /2, ... to the example prompts.
func examplePrompt(line string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(line, "/"))
	if !strings.HasPrefix(line, "/") || err != nil || n < 1 || n > len(client.ExamplePrompts) {
		return "", false
	}
	return client.ExamplePrompts[n-1], true
}

func printTranscript(w io.Writer, turns []client.Turn) {
	for _, t := range turns {
		who := "sina"
		if t.Role == chat.RoleAssistant {
			who = "tehiskokk"
		}
		fmt.Fprintf(w, "%s: %s\n", who, t.Content)
		if t.ImageURL != nil {
			fmt.Fprintf(w, "  [pilt] %s\n", *t.ImageURL)
		}
	}
}
