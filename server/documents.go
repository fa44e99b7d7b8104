package server

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/openanp/anp-runtime/agent"
)

func (s *Server) agentByLocalID(localID string) (*agent.Agent, bool) {
	for _, a := range s.registry.All() {
		if a.LocalID() == localID {
			return a, true
		}
	}
	return nil, false
}

func (s *Server) handleDIDDocument(w http.ResponseWriter, r *http.Request) {
	a, ok := s.agentByLocalID(chi.URLParam(r, "localID"))
	if !ok {
		writeError(w, http.StatusNotFound, "AgentNotFound")
		return
	}
	writeJSON(w, http.StatusOK, a.Credentials().Document)
}

func (s *Server) handleHostedDIDDocument(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "AgentNotFound")
		return
	}

	doc, err := s.store.HostedDocument(chi.URLParam(r, "localID"))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("hosted document lookup failed", "error", err)
		}
		writeError(w, http.StatusNotFound, "AgentNotFound")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePublisherAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.registry.All()
	list := make([]map[string]string, 0, len(agents))
	for _, a := range agents {
		list = append(list, map[string]string{
			"did":  a.DID(),
			"name": a.Name(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": list,
		"count":  len(list),
	})
}

// baseURL reconstructs the externally visible prefix from the request.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// handleAgentDescription renders the agent's JSON-LD description: the fixed
// interface-document trio plus one StructuredInterface entry per registered
// API route and per runtime endpoint the agent answers on.
func (s *Server) handleAgentDescription(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localID")
	a, ok := s.agentByLocalID(localID)
	if !ok {
		writeError(w, http.StatusNotFound, "AgentNotFound")
		return
	}

	base := baseURL(r)
	wbaPrefix := fmt.Sprintf("%s/wba/user/%s", base, localID)

	interfaces := []map[string]any{
		structuredInterface("natural-language", "nlp_interface",
			wbaPrefix+"/nlp_interface.yaml",
			"Natural-language message interface description"),
		structuredInterface("YAML", "api_interface",
			wbaPrefix+"/api_interface.yaml",
			"Structured API interface description"),
		structuredInterface("JSON-RPC 2.0", "api_interface",
			wbaPrefix+"/api_interface.json",
			"Structured JSON-RPC interface description"),
	}

	for _, route := range a.APIRoutes() {
		interfaces = append(interfaces, structuredInterface(
			"HTTP",
			strings.Trim(route, "/"),
			fmt.Sprintf("%s/agent/api/%s%s", base, localID, route),
			"Registered API route",
		))
	}

	interfaces = append(interfaces,
		structuredInterface("HTTP", "message",
			fmt.Sprintf("%s/agent/message/%s/post", base, localID),
			"Point-to-point message endpoint"),
		structuredInterface("HTTP", "group",
			fmt.Sprintf("%s/agent/group/%s/{group_id}/connect", base, localID),
			"Group event stream endpoint"),
	)

	description := map[string]any{
		"@context": map[string]any{
			"@vocab": "https://schema.org/",
			"did":    "https://w3id.org/did#",
			"ad":     "https://agent-network-protocol.com/ad#",
		},
		"@type":         "ad:AgentDescription",
		"@id":           wbaPrefix + "/ad.json",
		"name":          a.Name(),
		"did":           a.DID(),
		"ad:interfaces": interfaces,
	}

	writeJSON(w, http.StatusOK, description)
}

func structuredInterface(protocol, name, url, description string) map[string]any {
	return map[string]any{
		"@type":       "ad:StructuredInterface",
		"protocol":    protocol,
		"name":        name,
		"url":         url,
		"description": description,
	}
}

// handleInterfaceFile serves the generated per-agent interface documents.
func (s *Server) handleInterfaceFile(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localID")
	a, ok := s.agentByLocalID(localID)
	if !ok {
		writeError(w, http.StatusNotFound, "AgentNotFound")
		return
	}

	switch chi.URLParam(r, "file") {
	case "nlp_interface.yaml":
		s.writeYAML(w, nlpInterfaceDoc(a, baseURL(r)))
	case "api_interface.yaml":
		s.writeYAML(w, apiInterfaceDoc(a, baseURL(r)))
	case "api_interface.json":
		writeJSON(w, http.StatusOK, jsonrpcInterfaceDoc(a, baseURL(r)))
	default:
		writeError(w, http.StatusNotFound, "NotFound")
	}
}

func nlpInterfaceDoc(a *agent.Agent, base string) map[string]any {
	return map[string]any{
		"type":     "NaturalLanguageInterface",
		"version":  "1.0.0",
		"agent":    a.Name(),
		"did":      a.DID(),
		"endpoint": fmt.Sprintf("%s/agent/message/%s/post", base, a.LocalID()),
		"description": "Send a JSON body with a message_type field and free-form " +
			"content; the agent replies with an anp_result object.",
	}
}

func apiInterfaceDoc(a *agent.Agent, base string) map[string]any {
	routes := a.APIRoutes()
	paths := make(map[string]any, len(routes))
	for _, route := range routes {
		paths[route] = map[string]any{
			"url":     fmt.Sprintf("%s/agent/api/%s%s", base, a.LocalID(), route),
			"methods": []string{"GET", "POST"},
		}
	}
	return map[string]any{
		"type":    "StructuredInterface",
		"version": "1.0.0",
		"agent":   a.Name(),
		"did":     a.DID(),
		"paths":   paths,
	}
}

// jsonrpcInterfaceDoc renders the agent's API routes as an OpenRPC-style
// method list so clients can invoke them generically.
func jsonrpcInterfaceDoc(a *agent.Agent, base string) map[string]any {
	routes := a.APIRoutes()
	sort.Strings(routes)

	methods := make([]map[string]any, 0, len(routes))
	for _, route := range routes {
		methods = append(methods, map[string]any{
			"name":        strings.ReplaceAll(strings.Trim(route, "/"), "/", "."),
			"description": "API route " + route,
			"params":      map[string]any{},
		})
	}

	return map[string]any{
		"openrpc": "1.2.6",
		"info": map[string]any{
			"title":   a.Name(),
			"version": "1.0.0",
		},
		"servers": []map[string]any{
			{"name": a.Name(), "url": fmt.Sprintf("%s/agent/api/%s", base, a.LocalID())},
		},
		"methods": methods,
	}
}

func (s *Server) writeYAML(w http.ResponseWriter, doc any) {
	body, err := yaml.Marshal(doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := sonic.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
