package anp_client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Interface is one invocable method discovered in an agent-description or
// OpenRPC document.
type Interface struct {
	Type        string `json:"type"`
	Protocol    string `json:"protocol"`
	MethodName  string `json:"method_name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	ServerURL   string `json:"server_url,omitempty"`
	Params      []byte `json:"params,omitempty"`
}

// Invocable reports whether the interface can be called over JSON-RPC.
func (i *Interface) Invocable() bool {
	return i.MethodName != "" && i.ServerURL != ""
}

// ParseDescription extracts invocable interfaces from a fetched JSON
// document. Supported shapes: agent descriptions with an "ad:interfaces" or
// "interfaces" array, and standalone OpenRPC documents.
func ParseDescription(content []byte) ([]Interface, error) {
	var data map[string]any
	if err := sonic.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("parse description document: %w", err)
	}

	if isOpenRPC(data) {
		return extractOpenRPC(data), nil
	}

	list := interfaceList(data)
	if list == nil {
		return nil, nil
	}

	var out []Interface
	for _, raw := range list {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		ifaceType := getString(entry, "type")
		if content, ok := entry["content"].(map[string]any); ok && isOpenRPC(content) {
			out = append(out, extractOpenRPC(content)...)
			continue
		}

		out = append(out, Interface{
			Type:        ifaceType,
			Protocol:    getString(entry, "protocol"),
			Description: getString(entry, "description"),
			URL:         getString(entry, "url"),
		})
	}
	return out, nil
}

func interfaceList(data map[string]any) []any {
	for _, key := range []string{"ad:interfaces", "interfaces"} {
		if list, ok := data[key].([]any); ok {
			return list
		}
	}
	return nil
}

func isOpenRPC(data map[string]any) bool {
	_, hasOpenRPC := data["openrpc"]
	methods, hasMethods := data["methods"]
	return hasOpenRPC && hasMethods && methods != nil
}

func extractOpenRPC(data map[string]any) []Interface {
	methods, ok := data["methods"].([]any)
	if !ok {
		return nil
	}

	serverURL := ""
	if servers, ok := data["servers"].([]any); ok && len(servers) > 0 {
		if server, ok := servers[0].(map[string]any); ok {
			serverURL = getString(server, "url")
		}
	}

	out := make([]Interface, 0, len(methods))
	for _, raw := range methods {
		method, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		params, _ := sonic.Marshal(method["params"])
		out = append(out, Interface{
			Type:       "openrpc_method",
			Protocol:   "openrpc",
			MethodName: getString(method, "name"),
			Description: firstNonEmpty(
				getString(method, "description"),
				getString(method, "summary"),
			),
			ServerURL: serverURL,
			Params:    params,
		})
	}
	return out
}

// Invoke calls the interface's JSON-RPC method through the authenticated
// client. String arguments that look like JSON are decoded before sending.
func (c *Client) Invoke(ctx context.Context, iface *Interface, arguments map[string]any) (map[string]any, error) {
	if iface == nil || !iface.Invocable() {
		return nil, fmt.Errorf("interface is not invocable")
	}

	params := make(map[string]any, len(arguments))
	for key, value := range arguments {
		if s, ok := value.(string); ok && looksLikeJSON(s) {
			var decoded any
			if err := sonic.Unmarshal([]byte(s), &decoded); err == nil {
				params[key] = decoded
				continue
			}
		}
		params[key] = value
	}

	rpcRequest := map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  iface.MethodName,
		"params":  params,
	}

	logger.Debug("invoking interface", "method", iface.MethodName, "url", iface.ServerURL)

	result, err := c.Do(ctx, http.MethodPost, iface.ServerURL, "", rpcRequest)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", iface.MethodName, err)
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, fmt.Errorf("invoke %s: HTTP %d", iface.MethodName, result.StatusCode)
	}

	var rpcResponse map[string]any
	if err := sonic.Unmarshal(result.Body, &rpcResponse); err != nil {
		return nil, fmt.Errorf("parse JSON-RPC response for %s: %w", iface.MethodName, err)
	}
	if errVal, ok := rpcResponse["error"]; ok {
		return nil, fmt.Errorf("JSON-RPC error for %s: %v", iface.MethodName, errVal)
	}
	return rpcResponse, nil
}

func getString(data map[string]any, key string) string {
	if val, ok := data[key].(string); ok {
		return val
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}
