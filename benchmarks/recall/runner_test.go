// ABOUTME: Tests for the benchmark runner using the offline hash embedder
// ABOUTME: Runs scenarios on two arms with different window sizes

package recall

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/core"
)

func benchConfig() *config.Config {
	cfg := config.Default()
	cfg.EmbeddingProvider = "hash"
	cfg.VectorDimension = 64
	cfg.Arms = 2
	cfg.ArmWindows = []config.ArmWindow{{Size: 2, Stride: 0}, {Size: 4, Stride: 1}}
	cfg.LogLevel = "error"
	return cfg
}

func TestScenarios_WellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range GetScenarios() {
		if seen[s.ID] {
			t.Errorf("duplicate scenario %s", s.ID)
		}
		seen[s.ID] = true

		for i, turn := range s.Turns {
			if _, err := turn.Validate(); err != nil {
				t.Errorf("%s turn %d invalid: %v", s.ID, i, err)
			}
		}
		for _, q := range s.Queries {
			if q.ExpectedTurn < 0 || q.ExpectedTurn >= len(s.Turns) {
				t.Errorf("%s query %q expects turn %d outside the script", s.ID, q.Text, q.ExpectedTurn)
			}
		}
	}

	if _, ok := GetScenario("travel"); !ok {
		t.Error("travel scenario not found")
	}
	if _, ok := GetScenario("nope"); ok {
		t.Error("unknown scenario should not be found")
	}
}

func TestConversationForArm(t *testing.T) {
	for arm := 0; arm < 3; arm++ {
		conv := ConversationForArm("u", "travel", arm, 3)
		if got := core.AssignTestGroup("u", conv, 3); got != arm {
			t.Errorf("conversation %s is in arm %d, want %d", conv, got, arm)
		}
	}
}

func TestNewBenchmarkRunner_Validation(t *testing.T) {
	if _, err := NewBenchmarkRunner(benchConfig(), 0, false, nil); err == nil {
		t.Error("k of zero should be rejected")
	}
	cfg := benchConfig()
	cfg.Arms = 3
	if _, err := NewBenchmarkRunner(cfg, 5, false, nil); err == nil {
		t.Error("arm windows not matching the arm count should be rejected")
	}
}

func TestRunTest_PerArm(t *testing.T) {
	runner, err := NewBenchmarkRunner(benchConfig(), 3, false, nil)
	if err != nil {
		t.Fatalf("NewBenchmarkRunner() error = %v", err)
	}

	scenario := GetTravelScenario()
	result, err := runner.RunTest(context.Background(), scenario)
	if err != nil {
		t.Fatalf("RunTest() error = %v", err)
	}

	if len(result.Arms) != 2 {
		t.Fatalf("got %d arms, want 2", len(result.Arms))
	}
	for i, arm := range result.Arms {
		if arm.Arm != i {
			t.Errorf("arm %d reported as %d", i, arm.Arm)
		}
		if len(arm.Queries) != len(scenario.Queries) {
			t.Errorf("arm %d scored %d queries, want %d", i, len(arm.Queries), len(scenario.Queries))
		}
		if arm.Windows == 0 {
			t.Errorf("arm %d embedded no windows", i)
		}
		if arm.HitRate < 0.5 {
			t.Errorf("arm %d hit rate = %.2f, keyword queries should mostly hit", i, arm.HitRate)
		}
	}
	if result.Arms[0].WindowSize != 2 || result.Arms[1].WindowSize != 4 {
		t.Errorf("window sizes = %d, %d", result.Arms[0].WindowSize, result.Arms[1].WindowSize)
	}
	// smaller windows produce more of them
	if result.Arms[0].Windows <= result.Arms[1].Windows {
		t.Errorf("arm 0 has %d windows, arm 1 has %d", result.Arms[0].Windows, result.Arms[1].Windows)
	}
}

func TestExportResults(t *testing.T) {
	runner, err := NewBenchmarkRunner(benchConfig(), 3, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "results.json")
	results := []TestResult{{TestID: "a", Status: "PASS"}, {TestID: "b", Status: "FAIL"}}

	if err := runner.ExportResults(results, path); err != nil {
		t.Fatalf("ExportResults() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatal(err)
	}
	if summary["passed"].(float64) != 1 || summary["failed"].(float64) != 1 {
		t.Errorf("summary = %v", summary)
	}
}
