package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/openanp/anp-runtime/agent"
	"github.com/openanp/anp-runtime/anp_auth"
)

// callerDID returns the authenticated caller, or the req_did query parameter
// (defaulting to the anonymous exploration DID) on exempt paths.
func callerDID(r *http.Request) string {
	if did, ok := anp_auth.DIDFromContext(r.Context()); ok && did != "" {
		return did
	}
	if reqDID := r.URL.Query().Get(anp_auth.QueryParamReqDID); reqDID != "" {
		return reqDID
	}
	return anp_auth.AnonymousCallerDID
}

// targetDID returns the DID the middleware routed the request to.
func targetDID(r *http.Request) (string, error) {
	if did, ok := anp_auth.TargetDIDFromContext(r.Context()); ok && did != "" {
		return did, nil
	}
	return anp_auth.InferTargetDID(r.URL.Path, r.Host)
}

func requestBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var data map[string]any
	if err := sonic.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return data, nil
}

func (s *Server) route(w http.ResponseWriter, r *http.Request, req *agent.Request) {
	target, err := targetDID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, anp_auth.ReasonCode(err))
		return
	}

	resp, err := s.registry.Route(r.Context(), callerDID(r), target, req, r)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}
	writeJSON(w, resp.StatusCode, resp.Body)
}

func (s *Server) writeRouteError(w http.ResponseWriter, err error) {
	status := anp_auth.GetStatusCode(err, http.StatusInternalServerError)
	s.logger.Debug("dispatch failed", "status", status, "error", err)
	writeError(w, status, anp_auth.ReasonCode(err))
}

func (s *Server) handleAPICall(w http.ResponseWriter, r *http.Request) {
	data, err := requestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MalformedBody")
		return
	}

	// Query parameters ride along for GET callers without a body.
	if len(r.URL.Query()) > 0 {
		if data == nil {
			data = make(map[string]any)
		}
		for key, values := range r.URL.Query() {
			if _, ok := data[key]; !ok && len(values) > 0 {
				data[key] = values[0]
			}
		}
	}

	s.route(w, r, &agent.Request{
		Type: agent.RequestTypeAPICall,
		Path: "/" + chi.URLParam(r, "*"),
		Data: data,
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := requestBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MalformedBody")
		return
	}

	messageType := ""
	if data != nil {
		if mt, ok := data["message_type"].(string); ok {
			messageType = mt
		}
	}

	s.route(w, r, &agent.Request{
		Type:        agent.RequestTypeMessage,
		MessageType: messageType,
		Data:        data,
	})
}

func (s *Server) groupHandler(requestType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := requestBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "MalformedBody")
			return
		}

		s.route(w, r, &agent.Request{
			Type:    requestType,
			GroupID: chi.URLParam(r, "groupID"),
			Data:    data,
		})
	}
}

// handleGroupConnect streams group events to the member as Server-Sent
// Events, one "message" event per broadcast.
func (s *Server) handleGroupConnect(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "StreamingUnsupported")
		return
	}

	target, err := targetDID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, anp_auth.ReasonCode(err))
		return
	}

	resp, err := s.registry.Route(r.Context(), callerDID(r), target, &agent.Request{
		Type:    agent.RequestTypeGroupConnect,
		GroupID: chi.URLParam(r, "groupID"),
	}, r)
	if err != nil {
		s.writeRouteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-resp.Events:
			if !open {
				return
			}
			payload, err := sonic.Marshal(event)
			if err != nil {
				s.logger.Warn("failed to encode group event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
