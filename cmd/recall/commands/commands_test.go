// ABOUTME: End-to-end tests running the CLI against a temporary SQLite database
// ABOUTME: Covers append, ingest, history, conversations, search, embed, export and delete-user

package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harper/recall/internal/storage"
)

// setupCLIEnv points the CLI at a fresh database with the offline embedder
func setupCLIEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RECALL_STORAGE", "sqlite")
	t.Setenv("RECALL_DB_PATH", filepath.Join(dir, "recall.db"))
	t.Setenv("RECALL_EMBEDDER", "hash")
	t.Setenv("VECTOR_DIMENSION", "64")
	t.Setenv("WINDOW_SIZE", "2")
	t.Setenv("WINDOW_STRIDE", "0")
	t.Setenv("TELEMETRY_BACKEND", "store")
	t.Setenv("RECALL_USER", "cli-user")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func mustRunCLI(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("recall %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// findSubstring reports whether substr occurs in s
func findSubstring(s, substr string) bool {
	return strings.Contains(s, substr)
}

func seedTrip(t *testing.T) {
	t.Helper()
	mustRunCLI(t, "append", "trip", "user", "Where should we stay in Lisbon?")
	mustRunCLI(t, "append", "trip", "assistant", "Alfama has small hotels near the river.")
	mustRunCLI(t, "append", "trip", "user", "What about the weather in May?")
	mustRunCLI(t, "append", "trip", "assistant", "Mostly sunny with mild evenings.")
}

func TestAppendAndHistory(t *testing.T) {
	setupCLIEnv(t)

	out := mustRunCLI(t, "append", "trip", "user", "Where should we stay in Lisbon?")
	if !findSubstring(out, "Appended turn 0 to trip") {
		t.Errorf("unexpected append output:\n%s", out)
	}

	out = mustRunCLI(t, "append", "trip", "assistant", "Alfama has small hotels.")
	if !findSubstring(out, "Sealed window") {
		t.Errorf("second turn should seal a window of two, got:\n%s", out)
	}

	out = mustRunCLI(t, "--format", "json", "history", "trip")
	var turns []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &turns); err != nil {
		t.Fatalf("history is not JSON: %v\n%s", err, out)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[1]["role"] != "assistant" {
		t.Errorf("turn 1 role = %v", turns[1]["role"])
	}
}

func TestAppend_Validation(t *testing.T) {
	setupCLIEnv(t)

	if _, err := runCLI(t, "append", "trip", "robot", "hello"); err == nil {
		t.Error("unknown role should fail")
	}
	if _, err := runCLI(t, "append", "trip", "user", "   "); err == nil {
		t.Error("blank content should fail")
	}
	if _, err := runCLI(t, "history", "trip"); err == nil {
		t.Error("history of a missing conversation should fail")
	}
}

func TestAppend_FromFile(t *testing.T) {
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "reply.txt")
	if err := os.WriteFile(path, []byte("from a file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	mustRunCLI(t, "append", "notes", "assistant", "--file", path)
	out := mustRunCLI(t, "history", "notes")
	if !findSubstring(out, "from a file") {
		t.Errorf("history should show file content, got:\n%s", out)
	}
}

func TestIngest(t *testing.T) {
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "turns.yaml")
	data := `- role: user
  content: standup notes for monday
- role: assistant
  content: noted, anything blocked?
- role: user
  content: the deploy pipeline is red
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	out := mustRunCLI(t, "ingest", "standup", "--file", path)
	if !findSubstring(out, "Ingested 3 turn(s) into standup, sealed 1 window(s)") {
		t.Errorf("unexpected ingest output:\n%s", out)
	}

	out = mustRunCLI(t, "conversations")
	if !findSubstring(out, "standup") {
		t.Errorf("conversations should list standup, got:\n%s", out)
	}
}

func TestIngest_RejectsWholeBatch(t *testing.T) {
	dir := setupCLIEnv(t)
	path := filepath.Join(dir, "turns.json")
	data := `[{"role":"user","content":"fine"},{"role":"narrator","content":"bad"}]`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "ingest", "standup", "--file", path); err == nil {
		t.Fatal("invalid role should fail the batch")
	}
	if _, err := runCLI(t, "history", "standup"); err == nil {
		t.Error("no turn should have been written")
	}
}

func TestParseTurnInputs(t *testing.T) {
	tests := []struct {
		name string
		data string
		file string
		want int
	}{
		{"json by extension", `[{"role":"user","content":"a"}]`, "x.json", 1},
		{"json by shape", ` [{"role":"user","content":"a"},{"role":"assistant","content":"b"}]`, "", 2},
		{"yaml", "- role: user\n  content: a\n", "x.yaml", 1},
		{"empty", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTurnInputs([]byte(tt.data), tt.file)
			if err != nil {
				t.Fatalf("parseTurnInputs: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d inputs, want %d", len(got), tt.want)
			}
		})
	}

	if _, err := parseTurnInputs([]byte("[not json"), "x.json"); err == nil {
		t.Error("malformed JSON should fail")
	}
}

func TestSearch(t *testing.T) {
	setupCLIEnv(t)
	seedTrip(t)

	out := mustRunCLI(t, "search", "-c", "trip", "weather")
	if !findSubstring(out, "[2,3]") {
		t.Errorf("weather should match the second window, got:\n%s", out)
	}
	if !findSubstring(out, "Found") {
		t.Errorf("expected result count, got:\n%s", out)
	}

	out = mustRunCLI(t, "--format", "json", "search", "--cross", "--limit", "1", "hotels")
	var resp struct {
		Results []struct {
			Window struct {
				StartIndex int `json:"start_index"`
			} `json:"window"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	if len(resp.Results) != 1 || resp.Results[0].Window.StartIndex != 0 {
		t.Errorf("hotels should return window [0,1] only, got %+v", resp.Results)
	}
}

func TestSearch_Validation(t *testing.T) {
	setupCLIEnv(t)

	if _, err := runCLI(t, "search", "anything"); err == nil {
		t.Error("search without --conversation or --cross should fail")
	}
	if _, err := runCLI(t, "search", "--cross", "--limit", "0", "anything"); err == nil {
		t.Error("zero limit should fail")
	}
}

func TestAskPromptOnly(t *testing.T) {
	setupCLIEnv(t)
	seedTrip(t)

	out := mustRunCLI(t, "ask", "-c", "trip", "--prompt-only", "weather")
	if !findSubstring(out, "[SYSTEM]") || !findSubstring(out, "[USER]") {
		t.Errorf("expected both prompt messages, got:\n%s", out)
	}
	if !findSubstring(out, "Mostly sunny with mild evenings.") {
		t.Errorf("prompt should carry the weather window, got:\n%s", out)
	}
	if !findSubstring(out, "Grounded on") {
		t.Errorf("expected grounding summary, got:\n%s", out)
	}

	out = mustRunCLI(t, "--format", "json", "ask", "--cross", "--prompt-only", "hotels")
	var answer struct {
		Prompt []struct {
			Role string `json:"role"`
		} `json:"prompt"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &answer); err != nil {
		t.Fatalf("ask output is not JSON: %v\n%s", err, out)
	}
	if len(answer.Prompt) != 2 || len(answer.Results) == 0 {
		t.Errorf("ask JSON = %d messages, %d results", len(answer.Prompt), len(answer.Results))
	}
}

func TestAsk_Validation(t *testing.T) {
	setupCLIEnv(t)
	seedTrip(t)

	if _, err := runCLI(t, "ask", "anything"); err == nil {
		t.Error("ask without --conversation or --cross should fail")
	}
	out, err := runCLI(t, "ask", "-c", "trip", "weather")
	if err == nil {
		t.Errorf("ask without a chat model should fail, got:\n%s", out)
	}
}

func TestEmbedOnce(t *testing.T) {
	setupCLIEnv(t)
	seedTrip(t)

	out := mustRunCLI(t, "embed", "--once")
	if !findSubstring(out, "Embedded 2 window(s), 0 failed") {
		t.Errorf("unexpected embed output:\n%s", out)
	}

	out = mustRunCLI(t, "embed", "--once")
	if !findSubstring(out, "Embedded 0 window(s)") {
		t.Errorf("second run should find nothing pending, got:\n%s", out)
	}
}

func TestExport(t *testing.T) {
	dir := setupCLIEnv(t)
	seedTrip(t)
	path := filepath.Join(dir, "backup.json")

	mustRunCLI(t, "export", "-f", "json", "-o", path, "--windows")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	var data storage.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if data.UserID != "cli-user" || len(data.Conversations) != 1 {
		t.Fatalf("unexpected export: %+v", data)
	}
	if len(data.Conversations[0].Turns) != 4 || len(data.Conversations[0].Windows) != 2 {
		t.Errorf("got %d turns and %d windows",
			len(data.Conversations[0].Turns), len(data.Conversations[0].Windows))
	}

	if _, err := runCLI(t, "export", "-f", "toml"); err == nil {
		t.Error("unsupported format should fail")
	}
}

func TestExportCmd_Flags(t *testing.T) {
	cmd := NewExportCmd()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"output", "o", ""},
		{"format", "f", "yaml"},
		{"windows", "", "false"},
	}

	for _, tt := range tests {
		flag := cmd.Flags().Lookup(tt.name)
		if flag == nil {
			t.Fatalf("--%s flag not found", tt.name)
		}
		if flag.Shorthand != tt.shorthand {
			t.Errorf("--%s shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
		}
		if flag.DefValue != tt.defValue {
			t.Errorf("--%s default = %q, want %q", tt.name, flag.DefValue, tt.defValue)
		}
	}
}

func TestRebuild(t *testing.T) {
	setupCLIEnv(t)
	seedTrip(t)

	out := mustRunCLI(t, "rebuild", "trip")
	if !findSubstring(out, "Unchanged: 2  Replaced: 0  Deleted: 0") {
		t.Errorf("unexpected rebuild output:\n%s", out)
	}
}

func TestDeleteUser(t *testing.T) {
	setupCLIEnv(t)
	seedTrip(t)

	out := mustRunCLI(t, "delete-user")
	if !findSubstring(out, "--confirm") {
		t.Errorf("delete-user without --confirm should ask for it, got:\n%s", out)
	}
	mustRunCLI(t, "history", "trip")

	out = mustRunCLI(t, "delete-user", "--confirm")
	if !findSubstring(out, "Deleted 4 turn(s), 2 window(s)") {
		t.Errorf("unexpected delete output:\n%s", out)
	}
	if _, err := runCLI(t, "conversations"); err == nil {
		t.Error("conversations of a deleted user should fail")
	}
}

func TestSyncCmd_Subcommands(t *testing.T) {
	cmd := NewSyncCmd()

	for _, name := range []string{"status", "now", "events", "wipe", "keys"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("sync subcommand %q not found", name)
		}
	}
}

func TestSyncWipe_RequiresConfirm(t *testing.T) {
	cmd := NewRootCmd()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetArgs([]string{"sync", "wipe"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !findSubstring(output.String(), "--confirm") {
		t.Errorf("wipe without --confirm should not touch data, got:\n%s", output.String())
	}
}
