package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	tu, err := Load(writeTuning(t, "tick_rate_hz: 20\ntank:\n  max_size: [7, 12, 7]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 20 {
		t.Fatalf("tick_rate_hz=%d", tu.TickRateHz)
	}
	if tu.ChunkSize != 16 || tu.SnapshotEveryTicks != 3000 {
		t.Fatalf("defaults not applied: %+v", tu)
	}
	if tu.Tank.MaxSize != [3]int{7, 12, 7} || tu.Tank.MinSize != [3]int{3, 3, 3} {
		t.Fatalf("tank=%+v", tu.Tank)
	}
	if tu.Tank.RefuseBridging == nil || !*tu.Tank.RefuseBridging {
		t.Fatalf("refuse_bridging should default to true")
	}
}

func TestLoad_ExplicitFalseKept(t *testing.T) {
	tu, err := Load(writeTuning(t, "tank:\n  refuse_bridging: false\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *tu.Tank.RefuseBridging {
		t.Fatalf("refuse_bridging overwritten")
	}
}

func TestLoad_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"inverted": "tank:\n  min_size: [3, 3, 3]\n  max_size: [2, 10, 5]\n",
		"chunk":    "chunk_size: 12\n",
		"yaml":     "tick_rate_hz: [\n",
	} {
		if _, err := Load(writeTuning(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	if _, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
