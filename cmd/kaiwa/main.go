// Command kaiwa is the interactive terminal front end for live voice
// conversations: microphone capture, streaming recognition and model
// replies, driven by single-letter commands.
//
// Usage:
//
//	kaiwa [-project id] [-lang ja-JP] [-model gemini-2.0-flash-lite]
//	kaiwa -simulate 5 [-prompt こんにちは！]
//
// Commands:
//
//	s / start    begin recording
//	p / stop     stop recording
//	h / history  show the conversation so far
//	c / clear    clear the conversation
//	q / quit     exit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/kaiwalab/kaiwa/pkg/core"
	"github.com/kaiwalab/kaiwa/pkg/core/live"
	"github.com/kaiwalab/kaiwa/pkg/core/providers/anthropic"
	"github.com/kaiwalab/kaiwa/pkg/core/providers/gemini"
	"github.com/kaiwalab/kaiwa/pkg/core/providers/openai"
	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

type options struct {
	project        string
	language       string
	assistantModel string
	humanModel     string
	shortThreshold int
	simulateTurns  int
	simulatePrompt string
	noColor        bool
	debug          bool
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	opt := options{}
	fs := flag.NewFlagSet("kaiwa", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opt.project, "project", strings.TrimSpace(getenv("GOOGLE_CLOUD_PROJECT")), "Google Cloud project for speech recognition (or GOOGLE_CLOUD_PROJECT)")
	fs.StringVar(&opt.language, "lang", "", "speech language code (default: ja-JP, or KAIWA_LANGUAGE)")
	fs.StringVar(&opt.assistantModel, "model", strings.TrimSpace(getenv("ASSISTANT_MODEL")), "assistant model, bare name or backend/model (or ASSISTANT_MODEL)")
	fs.StringVar(&opt.humanModel, "human-model", strings.TrimSpace(getenv("HUMAN_MODEL")), "human-simulation model for -simulate (or HUMAN_MODEL)")
	fs.IntVar(&opt.shortThreshold, "short-threshold", -1, "rune count below which a turn gets a canned acknowledgement (default: 10)")
	fs.IntVar(&opt.simulateTurns, "simulate", 0, "run a model-to-model conversation for this many turns and exit")
	fs.StringVar(&opt.simulatePrompt, "prompt", "こんにちは！", "opening line for -simulate")
	fs.BoolVar(&opt.noColor, "no-color", false, "disable ANSI colors")
	fs.BoolVar(&opt.debug, "debug", false, "print interim transcripts and session internals to stderr")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opt.simulateTurns < 0 {
		return options{}, errors.New("-simulate must be >= 0")
	}
	if opt.simulateTurns > 0 && strings.TrimSpace(opt.simulatePrompt) == "" {
		return options{}, errors.New("-prompt must not be empty")
	}
	return opt, nil
}

// palette paints terminal output the way the web transcript colors
// turns: user blue, assistant green, notices yellow, errors red.
type palette struct {
	enabled bool
}

func (p palette) paint(code, s string) string {
	if !p.enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (p palette) user(s string) string   { return p.paint("94", s) }
func (p palette) ai(s string) string     { return p.paint("92", s) }
func (p palette) ok(s string) string     { return p.paint("92", s) }
func (p palette) notice(s string) string { return p.paint("93", s) }
func (p palette) alert(s string) string  { return p.paint("91", s) }
func (p palette) bold(s string) string   { return p.paint("1", s) }

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = godotenv.Load()
	normalizeEnvKeys()

	opt, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaiwa: %v\n", err)
		return 2
	}

	logLevel := slog.LevelWarn
	if opt.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	engine := buildEngine(opt)
	if len(engine.BackendNames()) == 0 {
		fmt.Fprintln(os.Stderr, "kaiwa: no dialogue backend available; set GOOGLE_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY")
		return 2
	}

	pal := palette{enabled: !opt.noColor && term.IsTerminal(int(os.Stdout.Fd()))}

	if opt.simulateTurns > 0 {
		if err := runSimulate(context.Background(), engine, opt, os.Stdout, pal); err != nil {
			fmt.Fprintf(os.Stderr, "kaiwa: %v\n", err)
			return 1
		}
		return 0
	}

	cfg := live.DefaultConfig()
	cfg.LoadFromEnv()
	if opt.project != "" {
		cfg.Project = opt.project
	}
	if opt.language != "" {
		cfg.Language = opt.language
	}
	if opt.shortThreshold >= 0 {
		cfg.ShortThreshold = opt.shortThreshold
	}
	cfg.Logger = logger

	if cfg.Project == "" {
		fmt.Fprintln(os.Stderr, "kaiwa: project is required: set -project or GOOGLE_CLOUD_PROJECT")
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "kaiwa: %v\n", err)
		return 2
	}

	session := live.NewSession(cfg, engine)

	// Ctrl+C tears the session down even while the command loop is
	// blocked reading stdin.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stdout, "\n"+pal.notice("終了処理中..."))
		_ = session.Close()
		fmt.Fprintln(os.Stdout, pal.ok("終了しました"))
		os.Exit(0)
	}()

	if err := runInteractive(context.Background(), session, opt, os.Stdin, os.Stdout, os.Stderr, pal); err != nil {
		_ = session.Close()
		fmt.Fprintf(os.Stderr, "kaiwa: %v\n", err)
		return 1
	}
	_ = session.Close()
	return 0
}

// normalizeEnvKeys lets GOOGLE_API_KEY stand in for GEMINI_API_KEY, which
// is the name the engine's key lookup uses.
func normalizeEnvKeys() {
	if os.Getenv("GEMINI_API_KEY") == "" {
		if googleKey := os.Getenv("GOOGLE_API_KEY"); googleKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", googleKey)
		}
	}
}

// buildEngine creates the dialogue engine and registers every backend
// whose API key is present in the environment.
func buildEngine(opt options) *core.Engine {
	engineCfg := core.DefaultEngineConfig()
	if opt.assistantModel != "" {
		engineCfg.AssistantModel = opt.assistantModel
	}
	if opt.humanModel != "" {
		engineCfg.HumanModel = opt.humanModel
	}

	engine := core.NewEngine(engineCfg, nil)
	if key := engine.GetAPIKey("gemini"); key != "" {
		engine.RegisterBackend(gemini.New(key))
	}
	if key := engine.GetAPIKey("openai"); key != "" {
		engine.RegisterBackend(openai.New(key))
	}
	if key := engine.GetAPIKey("anthropic"); key != "" {
		engine.RegisterBackend(anthropic.New(key))
	}
	return engine
}

func runInteractive(ctx context.Context, session *live.Session, opt options, in io.Reader, out, errOut io.Writer, pal palette) error {
	fmt.Fprintln(out, pal.bold("===== リアルタイム音声会話 CLI ====="))
	fmt.Fprintln(out, "コマンド: [s]開始 [p]停止 [h]履歴表示 [c]履歴クリア [q]終了")

	go printEvents(session.Events(), opt.debug, out, errOut, pal)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, pal.notice("コマンド> "))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			stopIfRecording(session, out, pal)
			return nil
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			continue

		case "s", "start":
			if err := session.Start(ctx); err != nil {
				if core.IsType(err, core.ErrAlreadyRecording) {
					fmt.Fprintln(out, pal.notice("既に録音中です"))
				} else {
					fmt.Fprintln(errOut, pal.alert("エラー: 音声認識の開始に失敗しました: "+err.Error()))
				}
				continue
			}
			fmt.Fprintln(out, pal.ok("音声認識を開始しました。"))

		case "p", "stop":
			if err := session.Stop(); err != nil {
				if core.IsType(err, core.ErrNotRecording) {
					fmt.Fprintln(out, pal.notice("録音は既に停止しています"))
				} else {
					fmt.Fprintln(errOut, pal.alert("エラー: "+err.Error()))
				}
				continue
			}
			fmt.Fprintln(out, pal.ok("音声認識を停止しました。"))

		case "h", "history":
			printHistory(out, pal, session.History())

		case "c", "clear":
			session.ClearHistory()
			fmt.Fprintln(out, pal.ok("会話履歴をクリアしました"))

		case "q", "quit":
			stopIfRecording(session, out, pal)
			fmt.Fprintln(out, pal.ok("終了します"))
			return nil

		default:
			fmt.Fprintln(out, pal.notice("無効なコマンドです。[s]開始 [p]停止 [h]履歴表示 [c]履歴クリア [q]終了"))
		}
	}
}

func stopIfRecording(session *live.Session, out io.Writer, pal palette) {
	if session.State() != live.StateRecording {
		return
	}
	fmt.Fprintln(out, pal.notice("録音を停止しています..."))
	_ = session.Stop()
}

// printEvents renders the session event stream until the session closes.
// Printed lines start with a newline so they break away from the command
// prompt the loop keeps redrawing.
func printEvents(events <-chan live.Event, debug bool, out, errOut io.Writer, pal palette) {
	for event := range events {
		if line, ok := renderEvent(event, pal); ok {
			fmt.Fprintln(out, "\n"+line)
			continue
		}
		if debug {
			fmt.Fprintf(errOut, "[debug] %s\n", debugLine(event))
		}
	}
}

// renderEvent formats a session event for the terminal. Events with no
// user-facing rendering return ok=false.
func renderEvent(event live.Event, pal palette) (string, bool) {
	switch e := event.(type) {
	case *live.TranscriptFinalEvent:
		return pal.user("あなた: " + e.Text), true
	case *live.TurnAcknowledgedEvent:
		return pal.ai("AI (相槌): " + e.Filler), true
	case *live.TurnAnsweredEvent:
		return pal.ai("AI: " + e.Reply), true
	case *live.RecordingStoppedEvent:
		if e.Reason == "stream_failed" {
			return pal.alert("エラー: 音声認識ストリームが切断されました"), true
		}
		return "", false
	case *live.ErrorEvent:
		return pal.alert("エラー: " + e.Message), true
	default:
		return "", false
	}
}

func debugLine(event live.Event) string {
	switch e := event.(type) {
	case *live.TranscriptInterimEvent:
		return "音声認識結果（中間）: " + e.Text
	case *live.StateChangedEvent:
		return "state " + e.From.String() + " -> " + e.To.String()
	case *live.RecordingStoppedEvent:
		return "recording.stopped reason=" + e.Reason
	default:
		return event.EventType()
	}
}

func printHistory(out io.Writer, pal palette, turns []types.DialogueTurn) {
	if len(turns) == 0 {
		fmt.Fprintln(out, pal.notice("まだ会話履歴はありません"))
		return
	}

	fmt.Fprintln(out, pal.bold("===== 会話履歴 ====="))
	for _, turn := range turns {
		switch turn.Role {
		case types.RoleUser:
			fmt.Fprintln(out, pal.user("あなた: "+turn.Text))
		case types.RoleAssistant:
			fmt.Fprintln(out, pal.ai("AI: "+turn.Text))
		}
	}
}

// runSimulate has the assistant model and the human-simulation model talk
// to each other, printing turns as they are produced.
func runSimulate(ctx context.Context, engine *core.Engine, opt options, out io.Writer, pal palette) error {
	fmt.Fprintln(out, pal.bold("===== モデル同士の会話 ====="))
	_, err := engine.Simulate(ctx, core.SimulateOptions{
		InitialPrompt: opt.simulatePrompt,
		Turns:         opt.simulateTurns,
		OnTurn: func(turn types.DialogueTurn) {
			switch turn.Role {
			case types.RoleUser:
				fmt.Fprintln(out, pal.user("人間: "+turn.Text))
			case types.RoleAssistant:
				fmt.Fprintln(out, pal.ai("AI: "+turn.Text))
			}
		},
	})
	return err
}
