package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Publisher accepts events
type Publisher interface {
	Publish(ev Event)
}

const maxLineSize = 1024 * 1024

// DecodeLine turns one line of an event stream into an event. Recognized forms:
//
//	{"event": "dataset:progress", "payload": {...}}  - event envelope, published as is
//	{"type": "progress", "step": 1, ...}             - generator output, becomes dataset:<type>
//	anything else                                    - becomes dataset:log with the line as message
//
// Empty lines are skipped.
func DecodeLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	if strings.HasPrefix(line, "{") {
		var head struct {
			Event   string          `json:"event"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &head); err == nil {
			switch {
			case head.Event != "":
				if len(head.Payload) == 0 || string(head.Payload) == "null" {
					head.Payload = json.RawMessage("{}")
				}
				return Event{Name: head.Event, Payload: head.Payload}, true
			case head.Type != "":
				return Event{Name: "dataset:" + head.Type, Payload: json.RawMessage(line)}, true
			}
		}
	}
	return New(GenerationLog, LogPayload{Message: &line}), true
}

// TrainingLine wraps a raw trainer output line as training-log of the job
func TrainingLine(jobID, line string) Event {
	line = strings.TrimRight(line, "\r\n")
	return New(TrainingLog, TrainingLogPayload{JobID: jobID, Line: &line})
}

// ReadStream decodes lines from r and publishes them until EOF or context cancellation
func ReadStream(ctx context.Context, r io.Reader, pub Publisher) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ev, ok := DecodeLine(scanner.Text()); ok {
			pub.Publish(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}
