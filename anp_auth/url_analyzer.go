package anp_auth

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// InferTargetDID derives the target DID from a request path and the
// server-observed Host header. Recognized shapes:
//
//	/wba/user/<hex16>/…        local DID, reconstructed from Host
//	/wba/hostuser/<hex16>/…    hosted DID, reconstructed from Host
//	/agent/api/<did-or-hex16>/…
//	/agent/message/<did-or-hex16>/…
//	/agent/group/<did-or-hex16>/…
//
// The agent path segment may be a URL-encoded full DID or a bare 16-hex
// local id; the latter is expanded against Host.
func InferTargetDID(path, host string) (string, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")

	if len(segments) >= 3 && segments[0] == "wba" {
		pathType := segments[1]
		if (pathType == DIDTypeUser || pathType == DIDTypeHostUser) && IsHex16(segments[2]) {
			return reconstructLocalDID(host, pathType, segments[2])
		}
	}

	if len(segments) >= 3 && segments[0] == "agent" {
		switch segments[1] {
		case "api", "message", "group":
			return decodeDIDSegment(segments[2], host)
		}
	}

	return "", ErrCannotInferTarget
}

func decodeDIDSegment(segment, host string) (string, error) {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		decoded = segment
	}

	if strings.HasPrefix(decoded, DIDPrefix) {
		if _, err := ParseDID(decoded); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCannotInferTarget, err)
		}
		return decoded, nil
	}

	if IsHex16(decoded) {
		return reconstructLocalDID(host, DIDTypeUser, decoded)
	}

	return "", ErrCannotInferTarget
}

// reconstructLocalDID expands a bare local id against the request's own
// Host header.
func reconstructLocalDID(host, pathType, localID string) (string, error) {
	h := host
	port := 0
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		p, err := strconv.Atoi(host[idx+1:])
		if err == nil {
			h = host[:idx]
			port = p
		}
	}
	if h == "" {
		return "", fmt.Errorf("%w: no host", ErrCannotInferTarget)
	}
	return BuildDID(h, port, pathType, localID)
}
