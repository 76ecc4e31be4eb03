// Command voxlive-chat is a terminal client for a live voice conversation.
// It streams microphone audio to the model, plays the spoken replies, and
// prints transcripts as they arrive. Typed lines are sent as text turns.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/voxjot/voxlive/internal/dotenv"
	"github.com/voxjot/voxlive/pkg/core"
	"github.com/voxjot/voxlive/pkg/live"
	voxlive "github.com/voxjot/voxlive/sdk"
)

type options struct {
	model       string
	voice       string
	system      string
	envFile     string
	volume      float64
	showPartial bool
	debug       bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var opt options
	flag.StringVar(&opt.model, "model", "gemini-2.0-flash-live-001", "Model to converse with")
	flag.StringVar(&opt.voice, "voice", "", "Prebuilt voice name (optional)")
	flag.StringVar(&opt.system, "system", "", "System instruction (optional)")
	flag.StringVar(&opt.envFile, "env-file", ".env", "Env file to load before reading GEMINI_API_KEY")
	flag.Float64Var(&opt.volume, "volume", 1.0, "Playback volume, 0.0 to 1.0")
	flag.BoolVar(&opt.showPartial, "show-partial", true, "Print partial transcripts as they stream")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := dotenv.LoadFile(opt.envFile); err != nil {
		fmt.Fprintln(os.Stderr, "load env file:", err)
		return 2
	}

	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing GEMINI_API_KEY (or GOOGLE_API_KEY); set it in the environment or", opt.envFile)
		return 2
	}

	level := slog.LevelWarn
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	session := voxlive.NewSession(voxlive.Config{
		APIKey:            apiKey,
		Model:             opt.model,
		Voice:             opt.voice,
		SystemInstruction: opt.system,
	}, voxlive.Handlers{
		OnStateChange: func(state live.State) {
			if opt.debug {
				fmt.Fprintf(os.Stderr, "[state] %s\n", state)
			}
		},
		OnReady: func() {
			fmt.Fprintln(os.Stderr, "connected; speak, or type a message and press enter (ctrl-c to quit)")
		},
		OnMessage: func(m voxlive.Message) {
			suffix := ""
			if m.Truncated {
				suffix = " …"
			}
			fmt.Printf("[%s] %s%s\n", m.Role, m.Text, suffix)
		},
		OnInputTranscript: func(text string) {
			if opt.showPartial && text != "" {
				fmt.Printf("[you, speaking] %s\r", text)
			}
		},
		OnOutputTranscript: func(text string) {
			if opt.showPartial && text != "" {
				fmt.Printf("[assistant, speaking] %s\r", text)
			}
		},
		OnInterrupted: func() {
			fmt.Fprintln(os.Stderr, "[interrupted]")
		},
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	}, voxlive.WithLogger(logger))

	if err := session.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start session:", err)
		return 1
	}
	defer session.End()
	session.SetVolume(opt.volume)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "bye")
			return 0
		case err := <-errCh:
			var coreErr *core.Error
			if errors.As(err, &coreErr) && coreErr.IsFatal() {
				fmt.Fprintln(os.Stderr, "session error:", err)
				return 1
			}
			fmt.Fprintln(os.Stderr, "[warning]", err)
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			session.SendText(line)
		}
	}
}
