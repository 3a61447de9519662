package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docpilot-ai/agentd/pkg/events"
)

// sseStream carries events from the run goroutine to the HTTP writer.
// Emit blocks while the client socket is backed up; a stall past the limit
// cancels the run.
type sseStream struct {
	ch     chan events.Event
	stall  time.Duration
	cancel func()
	closed chan struct{}
}

func newSSEStream(stall time.Duration, cancel func()) *sseStream {
	return &sseStream{
		ch:     make(chan events.Event, 16),
		stall:  stall,
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

// Emit implements agent.Emitter. Events arriving after the writer stopped
// are dropped.
func (st *sseStream) Emit(ev events.Event) {
	select {
	case st.ch <- ev:
	case <-st.closed:
	case <-time.After(st.stall):
		st.cancel()
	}
}

func sseHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tells nginx-style proxies not to buffer the stream.
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

// writeFrame writes one SSE frame. The payload marshals to a single line.
func writeFrame(w io.Writer, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.EventName(), err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventName(), data)
	return err
}

// streamEvents pumps events from the run to the client until the stream
// channel closes. Keepalive comments cover outbound silence; a client
// disconnect cancels the run but keeps draining so the run goroutine never
// blocks on Emit.
func (s *Server) streamEvents(c *gin.Context, chatID string, st *sseStream) {
	defer close(st.closed)

	sseHeaders(c)
	w := c.Writer
	io.WriteString(w, ": connected\n\n")
	w.Flush()

	keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case ev, ok := <-st.ch:
			if !ok {
				return
			}
			if err := writeFrame(w, ev); err != nil {
				s.logger.Warn("SSE write failed", "chat_id", chatID, "error", err)
			}
			w.Flush()
			keepalive.Reset(s.cfg.KeepaliveInterval)
		case <-keepalive.C:
			io.WriteString(w, ":ka\n\n")
			w.Flush()
		case <-clientGone:
			s.registry.CancelRun(chatID)
			clientGone = nil
		}
	}
}
