package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// streamBuffer sizes each event stream subscription. Streams are
// best-effort observers: a slow reader loses events, never stalls the bus.
const streamBuffer = 64

// streamWriteTimeout bounds each frame write to a stream client.
const streamWriteTimeout = 5 * time.Second

// maxBodyBytes bounds request bodies; every accepted body is tiny.
const maxBodyBytes = 4 << 10

var errNegativeDuration = errors.New("durations must not be negative")

// Server is the local HTTP control surface. It is an event producer only:
// every accepted request becomes a local-sourced bus event, and the state
// machine decides what happens. Reads are served from the status store.
type Server struct {
	statuses *status.Store
	bus      *bus.Bus
	clientID string
	upgrader websocket.Upgrader
}

// NewServer creates the API server.
func NewServer(statuses *status.Store, b *bus.Bus, clientID string) *Server {
	return &Server{
		statuses: statuses,
		bus:      b,
		clientID: clientID,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/arm", s.handleArm)
		r.Post("/disarm", s.handleDisarm)
		r.Post("/siren", s.handleSiren)
		r.Post("/floodlight", s.handleFloodlight)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// armRequest is the body of POST /api/v1/arm. The body is optional.
type armRequest struct {
	// ExitDelayS overrides the configured exit delay when positive.
	ExitDelayS int `json:"exit_delay_s"`
}

// disarmRequest is the body of POST /api/v1/disarm. The body is optional.
type disarmRequest struct {
	// AutoRearmS overrides the configured auto-rearm delay when positive.
	AutoRearmS int `json:"auto_rearm_s"`
}

// actuatorRequest is the body of the siren and floodlight endpoints.
type actuatorRequest struct {
	// On is the requested output level.
	On bool `json:"on"`
	// DurationS bounds how long the output stays on; zero means until
	// explicitly turned off.
	DurationS int `json:"duration_s"`
}

// acceptedResponse confirms an accepted command.
type acceptedResponse struct {
	// Accepted is always true; rejected requests get an error status.
	Accepted bool `json:"accepted"`
	// EventID is the id of the published event, for audit correlation.
	EventID uuid.UUID `json:"event_id"`
}

// errorResponse carries a rejection reason.
type errorResponse struct {
	// Error is the human-readable rejection reason.
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statuses.Snapshot())
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	var req armRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	if req.ExitDelayS < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errNegativeDuration.Error()})

		return
	}

	s.accept(w, r, event.CategoryUserArm, event.ArmPayload{ExitDelayS: req.ExitDelayS})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	var req disarmRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	if req.AutoRearmS < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errNegativeDuration.Error()})

		return
	}

	s.accept(w, r, event.CategoryUserDisarm, event.DisarmPayload{AutoRearmS: req.AutoRearmS})
}

func (s *Server) handleSiren(w http.ResponseWriter, r *http.Request) {
	s.handleActuator(w, r, event.CategorySirenControl)
}

func (s *Server) handleFloodlight(w http.ResponseWriter, r *http.Request) {
	s.handleActuator(w, r, event.CategoryFloodlightControl)
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request, category event.Category) {
	var req actuatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	}

	if req.DurationS < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errNegativeDuration.Error()})

		return
	}

	s.accept(w, r, category, event.ActuatorPayload{On: req.On, DurationS: req.DurationS})
}

// accept publishes the command as a local-sourced event and confirms it.
// Acceptance means queued for the state machine, not applied; the caller
// observes the outcome through /status or the event stream.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, category event.Category, value any) {
	e := event.New(event.SourceLocal, category, value, s.clientID)
	s.bus.Publish(r.Context(), e)

	logger.InfoKV(r.Context(), "Local command accepted",
		"category", category, "event_id", e.ID)

	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, EventID: e.ID})
}

// handleEvents streams bus events over a websocket. Each connection gets
// its own drop-when-full subscription, so a stalled observer only loses
// its own frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	defer func() { _ = conn.Close() }()

	name := "stream-" + uuid.NewString()
	events := s.bus.Subscribe(name, streamBuffer, bus.DropWhenFull)

	defer s.bus.Unsubscribe(name)

	ctx := r.Context()
	logger.DebugKV(ctx, "Event stream opened", "subscriber", name)

	// Reads only detect the client going away.
	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case se, ok := <-events:
			if !ok {
				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))

			if writeErr := conn.WriteJSON(se); writeErr != nil {
				logger.DebugKV(ctx, "Event stream write failed, closing",
					"subscriber", name, "error", writeErr)

				return
			}
		}
	}
}

// decodeBody parses an optional JSON body into dst. An empty body leaves
// dst zero-valued.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	if len(body) == 0 {
		return nil
	}

	return json.Unmarshal(body, dst)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
