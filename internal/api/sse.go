package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/HanTheDev/genie-analytics/internal/auth"
	"github.com/HanTheDev/genie-analytics/internal/genie"
	"github.com/HanTheDev/genie-analytics/internal/logging"
)

const streamApology = "I could not start an answer for this question right now. Please try again shortly."

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleStream sends meta, chunk and finally done or error events. A request
// whose stream cannot start still gets a 200 with an apology.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if !decode(w, r, &body) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	tenant, _ := auth.TenantFromContext(r.Context())

	stream, err := s.engine.StreamAnswer(r.Context(), body.request(tenant))
	if errors.Is(err, genie.ErrInvalidRequest) {
		writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	sse := sseWriter{w: w, flusher: flusher}

	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Stream could not start")
		_ = sse.event("chunk", map[string]string{"text": streamApology})
		_ = sse.event("done", map[string]any{"confidence": 0})
		return
	}

	_ = sse.event("meta", map[string]any{"tier": stream.Tier, "model": stream.Model, "fell_back": stream.FellBack})
	for c := range stream.Chunks {
		var werr error
		switch {
		case c.Err != nil:
			werr = sse.event("error", map[string]string{"error": "stream interrupted"})
		case c.Text != "":
			werr = sse.event("chunk", map[string]string{"text": c.Text})
		}
		if werr == nil && c.Done {
			werr = sse.event("done", map[string]any{})
		}
		if werr != nil {
			// Client went away; the request context cancels the upstream.
			logging.Ctx(r.Context()).Debug().Err(werr).Msg("Stream write failed")
		}
	}
}
