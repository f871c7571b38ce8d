// Package counter persists the key counter that makes saved sample names
// unique across sessions.
package counter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultPath is where the counter lives unless configured otherwise
const DefaultPath = "yolo_gui/key_counter.json"

type fileFormat struct {
	Counter int `json:"counter"`
}

// Counter is a monotonically increasing integer backed by a JSON file
type Counter struct {
	mu     sync.Mutex
	path   string
	value  int
	logger *zap.SugaredLogger
}

// Load reads the counter at path. A missing file starts at 0; an unreadable
// or corrupt one also starts at 0 and is logged.
func Load(path string, logger *zap.SugaredLogger) *Counter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Counter{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnw("cannot read key counter, starting at 0", "path", path, "error", err)
		}
		return c
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil || f.Counter < 0 {
		logger.Warnw("corrupt key counter, starting at 0", "path", path, "error", err)
		return c
	}
	c.value = f.Counter
	return c
}

// Value returns the last issued number
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Path returns the backing file
func (c *Counter) Path() string {
	return c.path
}

// Next increments the counter, persists it and returns the new value. The
// in-memory value advances even if persisting fails, so a number is never
// handed out twice in one process.
func (c *Counter) Next() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value++
	if err := c.persist(); err != nil {
		return c.value, fmt.Errorf("persist key counter: %w", err)
	}
	return c.value, nil
}

// persist replaces the file atomically through a temp file and rename
func (c *Counter) persist() (err error) {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(fileFormat{Counter: c.value})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".key_counter-*.json")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(data)
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}
