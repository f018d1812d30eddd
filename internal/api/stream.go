package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wolfroute/internal/jobs"
	"wolfroute/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const heartbeatInterval = 15 * time.Second

// followJob emits job events until the job reaches a terminal status, ctx
// ends or emit fails. Progress events may be skipped; the terminal one is
// always delivered, from the job record if the broker dropped it.
func (s *Server) followJob(ctx context.Context, id string, emit func(SSEEvent) error) error {
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return emit(s.snapshot(ctx, job))
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := emit(evt); err != nil || evt.Terminal() {
				return err
			}
		case <-ticker.C:
			job, err := s.Jobs.Get(ctx, id)
			if err != nil {
				return err
			}
			if job.Status.Terminal() {
				return emit(s.snapshot(ctx, job))
			}
			if err := emit(SSEEvent{Type: "heartbeat", Data: map[string]any{"jobId": id, "status": job.Status, "ts": time.Now().UTC().Format(time.RFC3339)}}); err != nil {
				return err
			}
		}
	}
}

// snapshot renders a stored terminal job as the event its worker published.
func (s *Server) snapshot(ctx context.Context, job model.Job) SSEEvent {
	evt := jobs.Event{JobID: job.ID, Error: job.Error}
	switch job.Status {
	case model.JobCompleted:
		evt.Type = jobs.EventCompleted
		if res, err := s.Jobs.Result(ctx, job.ID); err == nil {
			evt.Result = &res
		}
	case model.JobFailed:
		evt.Type = jobs.EventFailed
	default:
		evt.Type = jobs.EventCancelled
	}
	return toSSE(evt)
}

// streamJobSSE serves GET /v1/jobs/{id}/events/stream
func (s *Server) streamJobSSE(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	if _, err := s.Jobs.Get(r.Context(), id); err != nil {
		s.writeError(w, r, "Get job failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.followJob(r.Context(), id, func(evt SSEEvent) error {
		b, err := json.Marshal(evt.Data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.Log.V(1).Info("event stream ended", "job", id, "err", err.Error())
	}
}

// streamJobWS serves GET /v1/jobs/{id}/ws with the same events as JSON frames.
func (s *Server) streamJobWS(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Jobs.Get(r.Context(), id); err != nil {
		s.writeError(w, r, "Get job failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	err = s.followJob(ctx, id, func(evt SSEEvent) error { return conn.WriteJSON(evt) })
	if err != nil {
		s.Log.V(1).Info("job socket ended", "job", id, "err", err.Error())
		return
	}
	closeNormal(conn)
}

// OptimizeWSHandler handles /ws/optimize. The client sends one
// {config, vrpData} message; the server streams {iter, best_fitness} frames
// and then the final result. Closing the socket cancels the solve.
func (s *Server) OptimizeWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(32 << 20)

	req := model.OptimizationRequest{Config: jobs.DefaultConfig()}
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid request: " + err.Error()})
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	h, err := s.submit(ctx, req)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	go discardReads(conn, cancel)

	for p := range h.Updates() {
		if err := conn.WriteJSON(model.ProgressUpdate{Iteration: p.Iteration, BestFitness: p.BestFitness}); err != nil {
			cancel()
			break
		}
	}
	res, err := h.Wait(context.Background())
	if err != nil {
		if ctx.Err() == nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		}
		return
	}
	_ = conn.WriteJSON(model.FinalResult{
		Done:         true,
		Routes:       res.Routes,
		BestFitness:  res.BestFitness,
		Runtime:      res.Runtime,
		RouteDetails: res.RouteDetails,
	})
	closeNormal(conn)
}

// discardReads consumes client frames so control messages are handled, and
// calls cancel once the connection is gone.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			cancel()
			return
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
