// ABOUTME: Server-Sent Events reader for gateway streams
// ABOUTME: Parses event/data frames and skips comment keep-alives

package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxEventSize bounds one SSE line; product cards make AI replies long.
const maxEventSize = 1 << 20

// Event is one parsed Server-Sent Event.
type Event struct {
	Type string
	Data string
}

// readEvents calls onEvent for every complete event in body until the body
// ends, ctx is done or onEvent returns an error.
func readEvents(ctx context.Context, body io.Reader, onEvent func(Event) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				ev := Event{Type: eventType, Data: strings.Join(dataLines, "\n")}
				if err := onEvent(ev); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading SSE stream: %w", err)
	}
	return nil
}
