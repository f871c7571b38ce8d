package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	labeler "github.com/menta2k/keypoint-labeler"
	"github.com/menta2k/keypoint-labeler/pkg/session"
	"github.com/menta2k/keypoint-labeler/pkg/types"
)

// event is one step of a replay script. X and Y are canvas coordinates for
// the mouse operations; Value carries the argument of the others.
//
//	[{"op": "down", "x": 150, "y": 50}, {"op": "up", "x": 550, "y": 450},
//	 {"op": "mode", "value": "keypoint"}, {"op": "class", "value": "2"}]
type event struct {
	Op    string  `json:"op"`
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	Value string  `json:"value,omitempty"`
}

func loadScript(path string) ([]event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var events []event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, types.InvalidInputf("parse events %s: %v", path, err)
	}
	return events, nil
}

func needsDetector(events []event) bool {
	for _, e := range events {
		if e.Op == "infer" {
			return true
		}
	}
	return false
}

// runScript applies events in order. Rejected edits are logged and the
// script goes on; malformed events and failed actions stop it.
func runScript(ctx context.Context, l *labeler.Labeler, events []event, logger *zap.SugaredLogger) error {
	for i, e := range events {
		var r session.Result
		switch e.Op {
		case "down":
			r = l.MouseDown(e.X, e.Y)
		case "drag":
			r = l.MouseDrag(e.X, e.Y)
		case "up":
			r = l.MouseUp(e.X, e.Y)
		case "click":
			l.MouseDown(e.X, e.Y)
			r = l.MouseUp(e.X, e.Y)

		case "mode":
			m, err := session.ParseMode(e.Value)
			if err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
			r = l.SetMode(m)
		case "class":
			id, err := strconv.Atoi(e.Value)
			if err != nil {
				return fmt.Errorf("event %d: %w", i, types.InvalidInputf("class %q", e.Value))
			}
			if err := l.SetClassID(id); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
		case "select":
			idx, err := strconv.Atoi(e.Value)
			if err != nil {
				return fmt.Errorf("event %d: %w", i, types.InvalidInputf("box index %q", e.Value))
			}
			if err := l.Select(idx); err != nil {
				logger.Warnw("select rejected", "event", i, "error", err)
			}
		case "delete":
			l.DeleteSelected()
		case "clear":
			l.ClearAnnotations()
		case "clear_keypoints":
			l.ClearSelectedKeypoints()
		case "infer":
			if _, err := l.RunInference(ctx); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
		default:
			return fmt.Errorf("event %d: %w", i, types.InvalidInputf("unknown op %q", e.Op))
		}

		if r.Err != nil {
			logger.Warnw("edit rejected", "event", i, "op", e.Op, "error", r.Err)
		}
		logger.Debugw("replayed", "event", i, "op", e.Op, "status", l.Status())
	}
	return nil
}
