package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StreamStatusSSE pushes the status view of one workflow as server-sent
// events, re-reading it every interval. An event is written only when the
// view changed; the stream ends once the workflow is terminal.
func (s *StatusService) StreamStatusSSE(c *fiber.Ctx, workflowID string, every time.Duration) error {
	view, err := s.GetStatus(c.UserContext(), workflowID)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		var last string
		for {
			if view != nil {
				payload, _ := json.Marshal(view)
				if string(payload) != last {
					last = string(payload)
					fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}
				}
				if view.Status == StatusConfirmed || view.Status == StatusFailed {
					return
				}
			}

			select {
			case <-ticker.C:
				next, err := s.GetStatus(context.Background(), workflowID)
				if err != nil {
					log.Printf("SSE status error for workflow %s: %v", workflowID, err)
					continue
				}
				view = next
			case <-done:
				return
			}
		}
	})
	return nil
}
