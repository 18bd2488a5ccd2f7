package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deepresearch/internal/events"
	"deepresearch/internal/logging"
	"deepresearch/internal/report"

	"github.com/gofiber/fiber/v2"
)

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func writeEvent(w *bufio.Writer, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}

// streamEvents sends the current snapshot followed by the session's progress
// events. The stream ends when the session reaches DONE or FAILED, or when
// the client goes away.
func (s *Server) streamEvents(c *fiber.Ctx) error {
	if s.bus == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "event bus not configured")
	}
	id := c.Params("id")

	// Subscribe before reading the snapshot so nothing falls in between.
	ctx, cancel := context.WithCancel(s.baseCtx)
	ch, err := s.bus.Subscribe(ctx, id)
	if err != nil {
		cancel()
		return err
	}
	snap, err := s.engine.Snapshot(c.UserContext(), id)
	if err != nil {
		cancel()
		return err
	}

	setSSEHeaders(c)
	keepalive := s.keepalive
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := writeEvent(w, "snapshot", snap); err != nil || snap.Stage.Terminal() {
			return
		}

		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(w, string(ev.Type), ev); err != nil {
					logging.ServerDebug("Event stream for %s closed: %v", id, err)
					return
				}
				if ev.Type == events.TypeReportReady || ev.Type == events.TypeSessionFailed {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

// streamReport replays the finished report in chunks of the requested
// granularity, defaulting to the session's smoothTextStreamType.
func (s *Server) streamReport(c *fiber.Ctx) error {
	id := c.Params("id")
	rep, err := s.engine.GetFinalReport(c.UserContext(), id)
	if err != nil {
		return err
	}
	sess, err := s.engine.Session(c.UserContext(), id)
	if err != nil {
		return err
	}

	granularity := c.Query("granularity", sess.Config.SmoothTextStreamType)
	switch granularity {
	case report.ByCharacter, report.ByWord, report.ByLine:
	default:
		return badRequest(fmt.Sprintf("unknown granularity %q (want character, word or line)", granularity))
	}
	chunks := report.Chunks(rep.Markdown, granularity)

	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for _, chunk := range chunks {
			if err := writeEvent(w, "chunk", fiber.Map{"text": chunk}); err != nil {
				return
			}
		}
		_ = writeEvent(w, "done", fiber.Map{"sources": rep.Sources, "metadata": rep.Metadata})
	})
	return nil
}
