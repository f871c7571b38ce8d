package counter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/keypoint-labeler/internal/logging"
)

func TestLoadMissing(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	c := Load(filepath.Join(t.TempDir(), "none.json"), logger)
	if c.Value() != 0 {
		t.Errorf("Expected 0, got %d", c.Value())
	}
	if logs.Len() != 0 {
		t.Errorf("Expected no warning for a missing file, got %d entries", logs.Len())
	}
}

func TestLoadCorrupt(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":  "{not json",
		"negative": `{"counter":-3}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "key_counter.json")
			os.WriteFile(path, []byte(content), 0o644)

			logger, logs := logging.NewObservedTestLogger(t)
			c := Load(path, logger)
			if c.Value() != 0 {
				t.Errorf("Expected 0, got %d", c.Value())
			}
			if logs.FilterMessage("corrupt key counter, starting at 0").Len() != 1 {
				t.Error("Expected a warning for a corrupt file")
			}
		})
	}
}

func TestNextPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolo_gui", "key_counter.json")
	c := Load(path, nil)

	for want := 1; want <= 3; want++ {
		got, err := c.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != want {
			t.Errorf("Expected %d, got %d", want, got)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"counter":3}` {
		t.Errorf("Unexpected file content %s", data)
	}

	reloaded := Load(path, nil)
	if reloaded.Value() != 3 {
		t.Errorf("Expected reloaded counter 3, got %d", reloaded.Value())
	}
	if n, _ := reloaded.Next(); n != 4 {
		t.Errorf("Expected 4 after reload, got %d", n)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the counter file, found %d entries", len(entries))
	}
}

func TestNextPersistFailureStillAdvances(t *testing.T) {
	// the parent of the counter path is a regular file
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, nil, 0o644)
	c := Load(filepath.Join(blocker, "key_counter.json"), nil)

	n, err := c.Next()
	if err == nil {
		t.Error("Expected a persist error")
	}
	if n != 1 || c.Value() != 1 {
		t.Errorf("Expected the counter to advance to 1, got %d", n)
	}
}
