package collector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/observe"
)

// Server accepts duplex connections from transcription workers and runs each
// inbound frame through the processor in arrival order.
type Server struct {
	processor *Processor
	metrics   *observe.Metrics
}

// NewServer creates a Server.
func NewServer(processor *Processor) *Server {
	return &Server{processor: processor, metrics: observe.DefaultMetrics()}
}

// ServeHTTP upgrades the request and serves the connection until the peer
// goes away. A dropped connection is a normal event: the worker reconnects
// and resumes where it left off, with dedup absorbing the overlap.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Workers are in-cluster services, not browsers.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("collector: websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection abandoned")

	connID := uuid.NewString()
	slog.Info("collector: worker connected", "connection_id", connID, "remote", r.RemoteAddr)
	s.metrics.WorkerConnections.Add(r.Context(), 1)
	defer s.metrics.WorkerConnections.Add(context.WithoutCancel(r.Context()), -1)

	s.serve(r.Context(), conn, connID)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, connID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				slog.Info("collector: worker disconnected", "connection_id", connID)
			} else {
				slog.Warn("collector: read failed", "connection_id", connID, "error", err)
			}
			return
		}

		frame, err := parseFrame(data)
		if err != nil {
			s.sendError(ctx, conn, connID, err)
			continue
		}

		res, err := s.processor.Process(ctx, frame)
		if err != nil {
			// Frame-level failures go back to the worker; the connection
			// itself stays healthy.
			s.sendError(ctx, conn, connID, err)
			if !errors.Is(err, apperr.ErrValidation) {
				slog.Warn("collector: frame processing failed",
					"connection_id", connID, "meeting_id", frame.MeetingID, "error", err)
			}
			continue
		}

		s.metrics.RecordSegments(ctx, "stored", res.Stored)
		s.metrics.RecordSegments(ctx, "deduplicated", res.Deduplicated)
		s.metrics.RecordSegments(ctx, "filtered", res.Filtered)
		s.metrics.RecordSegments(ctx, "partial", res.Partials)
		s.metrics.RecordSegments(ctx, "invalid", res.Invalid)
		slog.Debug("collector: frame processed",
			"connection_id", connID, "meeting_id", frame.MeetingID,
			"stored", res.Stored, "deduplicated", res.Deduplicated,
			"filtered", res.Filtered, "partials", res.Partials, "invalid", res.Invalid)
	}
}

func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, connID string, cause error) {
	reply, err := json.Marshal(errorFrame{Status: "error", Message: cause.Error()})
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
		slog.Warn("collector: writing error frame", "connection_id", connID, "error", err)
	}
}
