package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core"
	"github.com/kaiwalab/kaiwa/pkg/core/live"
	"github.com/kaiwalab/kaiwa/pkg/core/types"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestParseOptions_DefaultsAndEnv(t *testing.T) {
	t.Parallel()

	opt, err := parseOptions(nil, envMap(map[string]string{
		"GOOGLE_CLOUD_PROJECT": "demo-project",
		"ASSISTANT_MODEL":      "gemini-2.0-flash-lite",
		"HUMAN_MODEL":          "gpt-4o",
	}))
	if err != nil {
		t.Fatalf("parseOptions error: %v", err)
	}

	if opt.project != "demo-project" {
		t.Fatalf("project=%q, want %q", opt.project, "demo-project")
	}
	if opt.assistantModel != "gemini-2.0-flash-lite" {
		t.Fatalf("assistantModel=%q", opt.assistantModel)
	}
	if opt.humanModel != "gpt-4o" {
		t.Fatalf("humanModel=%q", opt.humanModel)
	}
	if opt.language != "" {
		t.Fatalf("language=%q, want empty (config default applies)", opt.language)
	}
	if opt.shortThreshold != -1 {
		t.Fatalf("shortThreshold=%d, want -1 (unset)", opt.shortThreshold)
	}
	if opt.simulateTurns != 0 {
		t.Fatalf("simulateTurns=%d, want 0", opt.simulateTurns)
	}
	if opt.simulatePrompt != "こんにちは！" {
		t.Fatalf("simulatePrompt=%q", opt.simulatePrompt)
	}
}

func TestParseOptions_FlagsOverrideEnv(t *testing.T) {
	t.Parallel()

	opt, err := parseOptions([]string{
		"-project", "other-project",
		"-lang", "en-US",
		"-model", "claude-3-5-haiku",
		"-short-threshold", "4",
		"-no-color",
		"-debug",
	}, envMap(map[string]string{
		"GOOGLE_CLOUD_PROJECT": "demo-project",
	}))
	if err != nil {
		t.Fatalf("parseOptions error: %v", err)
	}

	if opt.project != "other-project" {
		t.Fatalf("project=%q, want %q", opt.project, "other-project")
	}
	if opt.language != "en-US" {
		t.Fatalf("language=%q", opt.language)
	}
	if opt.assistantModel != "claude-3-5-haiku" {
		t.Fatalf("assistantModel=%q", opt.assistantModel)
	}
	if opt.shortThreshold != 4 {
		t.Fatalf("shortThreshold=%d", opt.shortThreshold)
	}
	if !opt.noColor {
		t.Fatalf("noColor=false, want true")
	}
	if !opt.debug {
		t.Fatalf("debug=false, want true")
	}
}

func TestParseOptions_SimulateValidation(t *testing.T) {
	t.Parallel()

	if _, err := parseOptions([]string{"-simulate", "-1"}, envMap(nil)); err == nil {
		t.Fatalf("expected error for negative -simulate")
	}

	if _, err := parseOptions([]string{"-simulate", "3", "-prompt", "   "}, envMap(nil)); err == nil {
		t.Fatalf("expected error for blank -prompt")
	}

	opt, err := parseOptions([]string{"-simulate", "3"}, envMap(nil))
	if err != nil {
		t.Fatalf("parseOptions error: %v", err)
	}
	if opt.simulateTurns != 3 {
		t.Fatalf("simulateTurns=%d, want 3", opt.simulateTurns)
	}
}

func TestPalette(t *testing.T) {
	t.Parallel()

	off := palette{}
	if got := off.user("あなた: テスト"); got != "あなた: テスト" {
		t.Fatalf("disabled palette altered text: %q", got)
	}

	on := palette{enabled: true}
	if got := on.user("x"); got != "\033[94mx\033[0m" {
		t.Fatalf("user paint=%q", got)
	}
	if got := on.ai("x"); got != "\033[92mx\033[0m" {
		t.Fatalf("ai paint=%q", got)
	}
	if got := on.notice("x"); got != "\033[93mx\033[0m" {
		t.Fatalf("notice paint=%q", got)
	}
	if got := on.alert("x"); got != "\033[91mx\033[0m" {
		t.Fatalf("alert paint=%q", got)
	}
	if got := on.bold("x"); got != "\033[1mx\033[0m" {
		t.Fatalf("bold paint=%q", got)
	}
}

func TestRenderEvent(t *testing.T) {
	t.Parallel()

	pal := palette{}

	line, ok := renderEvent(&live.TranscriptFinalEvent{Text: "今日は寒いですね"}, pal)
	if !ok || line != "あなた: 今日は寒いですね" {
		t.Fatalf("final render=%q ok=%v", line, ok)
	}

	line, ok = renderEvent(&live.TurnAcknowledgedEvent{Utterance: "はい", Filler: "なるほど"}, pal)
	if !ok || line != "AI (相槌): なるほど" {
		t.Fatalf("acknowledged render=%q ok=%v", line, ok)
	}

	line, ok = renderEvent(&live.TurnAnsweredEvent{Utterance: "質問", Reply: "答え"}, pal)
	if !ok || line != "AI: 答え" {
		t.Fatalf("answered render=%q ok=%v", line, ok)
	}

	line, ok = renderEvent(&live.ErrorEvent{Code: "generation_error", Message: "backend down"}, pal)
	if !ok || line != "エラー: backend down" {
		t.Fatalf("error render=%q ok=%v", line, ok)
	}

	line, ok = renderEvent(&live.RecordingStoppedEvent{Reason: "stream_failed"}, pal)
	if !ok || !strings.Contains(line, "エラー") {
		t.Fatalf("stream_failed render=%q ok=%v", line, ok)
	}

	if _, ok = renderEvent(&live.RecordingStoppedEvent{Reason: "stopped"}, pal); ok {
		t.Fatalf("requested stop should not render")
	}
	if _, ok = renderEvent(&live.TranscriptInterimEvent{Text: "途中"}, pal); ok {
		t.Fatalf("interim should not render outside debug")
	}
	if _, ok = renderEvent(&live.TurnDroppedEvent{}, pal); ok {
		t.Fatalf("dropped turn should not render")
	}
}

func TestDebugLine(t *testing.T) {
	t.Parallel()

	if got := debugLine(&live.TranscriptInterimEvent{Text: "こん"}); got != "音声認識結果（中間）: こん" {
		t.Fatalf("interim debug=%q", got)
	}
	if got := debugLine(&live.StateChangedEvent{From: live.StateIdle, To: live.StateRecording}); got != "state IDLE -> RECORDING" {
		t.Fatalf("state debug=%q", got)
	}
	if got := debugLine(&live.TurnDroppedEvent{}); got != "turn.dropped" {
		t.Fatalf("dropped debug=%q", got)
	}
}

func TestPrintHistory(t *testing.T) {
	t.Parallel()

	pal := palette{}

	var out bytes.Buffer
	printHistory(&out, pal, nil)
	if !strings.Contains(out.String(), "まだ会話履歴はありません") {
		t.Fatalf("empty history output=%q", out.String())
	}

	out.Reset()
	printHistory(&out, pal, []types.DialogueTurn{
		{Role: types.RoleUser, Text: "こんにちは", Timestamp: time.Now()},
		{Role: types.RoleAssistant, Text: "こんにちは！", Timestamp: time.Now()},
	})
	got := out.String()
	if !strings.Contains(got, "===== 会話履歴 =====") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, "あなた: こんにちは") {
		t.Fatalf("missing user turn: %q", got)
	}
	if !strings.Contains(got, "AI: こんにちは！") {
		t.Fatalf("missing assistant turn: %q", got)
	}
}

func TestNormalizeEnvKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	normalizeEnvKeys()

	if got := os.Getenv("GEMINI_API_KEY"); got != "google-key" {
		t.Fatalf("GEMINI_API_KEY=%q, want fallback to GOOGLE_API_KEY", got)
	}
}

func TestBuildEngine_RegistersBackendsFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")

	engine := buildEngine(options{assistantModel: "claude-3-5-haiku", humanModel: "gpt-4o"})

	names := strings.Join(engine.BackendNames(), ",")
	for _, want := range []string{"gemini", "openai", "anthropic"} {
		if !strings.Contains(names, want) {
			t.Fatalf("backends=%q, missing %q", names, want)
		}
	}
	if got := engine.Config().AssistantModel; got != "claude-3-5-haiku" {
		t.Fatalf("AssistantModel=%q", got)
	}
	if got := engine.Config().HumanModel; got != "gpt-4o" {
		t.Fatalf("HumanModel=%q", got)
	}
}

type scriptedBackend struct {
	replies []string
	calls   int
}

func (b *scriptedBackend) Name() string { return "mock" }

func (b *scriptedBackend) Generate(ctx context.Context, req *types.GenerateRequest) (string, error) {
	reply := b.replies[b.calls%len(b.replies)]
	b.calls++
	return reply, nil
}

func TestRunSimulate_PrintsBothRoles(t *testing.T) {
	t.Parallel()

	engineCfg := core.DefaultEngineConfig()
	engineCfg.AssistantModel = "mock/assistant"
	engineCfg.HumanModel = "mock/human"
	engine := core.NewEngine(engineCfg, map[string]string{})
	engine.RegisterBackend(&scriptedBackend{replies: []string{"いい天気ですね", "そうですね"}})

	var out bytes.Buffer
	err := runSimulate(context.Background(), engine, options{
		simulateTurns:  1,
		simulatePrompt: "こんにちは",
	}, &out, palette{})
	if err != nil {
		t.Fatalf("runSimulate error: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "人間: こんにちは") {
		t.Fatalf("missing opening line: %q", got)
	}
	if !strings.Contains(got, "AI: いい天気ですね") {
		t.Fatalf("missing assistant line: %q", got)
	}
	if !strings.Contains(got, "人間: そうですね") {
		t.Fatalf("missing human reply: %q", got)
	}
}

func TestRunInteractive_CommandLoop(t *testing.T) {
	t.Parallel()

	engine := core.NewEngine(core.DefaultEngineConfig(), map[string]string{})
	cfg := live.DefaultConfig()
	cfg.Project = "test-project"
	session := live.NewSession(cfg, engine)
	defer session.Close()

	var out bytes.Buffer
	in := strings.NewReader("h\nc\nbogus\np\nq\n")
	err := runInteractive(context.Background(), session, options{}, in, &out, io.Discard, palette{})
	if err != nil {
		t.Fatalf("runInteractive error: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "===== リアルタイム音声会話 CLI =====") {
		t.Fatalf("missing banner: %q", got)
	}
	if !strings.Contains(got, "まだ会話履歴はありません") {
		t.Fatalf("missing empty-history notice: %q", got)
	}
	if !strings.Contains(got, "会話履歴をクリアしました") {
		t.Fatalf("missing clear confirmation: %q", got)
	}
	if !strings.Contains(got, "無効なコマンドです") {
		t.Fatalf("missing invalid-command notice: %q", got)
	}
	if !strings.Contains(got, "録音は既に停止しています") {
		t.Fatalf("missing idle-stop notice: %q", got)
	}
	if !strings.Contains(got, "終了します") {
		t.Fatalf("missing quit message: %q", got)
	}
}

func TestRunInteractive_EOFReturnsCleanly(t *testing.T) {
	t.Parallel()

	engine := core.NewEngine(core.DefaultEngineConfig(), map[string]string{})
	cfg := live.DefaultConfig()
	cfg.Project = "test-project"
	session := live.NewSession(cfg, engine)
	defer session.Close()

	var out bytes.Buffer
	err := runInteractive(context.Background(), session, options{}, strings.NewReader(""), &out, io.Discard, palette{})
	if err != nil {
		t.Fatalf("runInteractive error: %v", err)
	}
}
