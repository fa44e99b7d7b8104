package anp_auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DID holds the parsed components of a did:wba identifier of the form
// did:wba:<host>[%3A<port>]:wba:<type>:<hex16>.
type DID struct {
	Raw      string
	Host     string
	Port     int // 0 when the DID carries no port
	PathType string
	LocalID  string
}

// IsHosted reports whether the DID is published under /wba/hostuser/.
func (d *DID) IsHosted() bool {
	return d.PathType == DIDTypeHostUser
}

// Authority returns host or host:port, matching the server the DID points at.
func (d *DID) Authority() string {
	if d.Port > 0 {
		return fmt.Sprintf("%s:%d", d.Host, d.Port)
	}
	return d.Host
}

// DocumentURL returns the authoritative location of the DID document.
// DIDs that embed a port are served over plain HTTP on that port; DIDs
// without a port resolve over HTTPS.
func (d *DID) DocumentURL() string {
	scheme := "https"
	if d.Port > 0 {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/wba/%s/%s/%s", scheme, d.Authority(), d.PathType, d.LocalID, DIDDocumentFilename)
}

// ParseDID parses a did:wba identifier. The host segment may URL-encode its
// port separator (%3A); the local id must be exactly 16 hex digits.
func ParseDID(did string) (*DID, error) {
	if !strings.HasPrefix(did, DIDPrefix) {
		return nil, fmt.Errorf("%w: must start with %q", ErrInvalidDIDFormat, DIDPrefix)
	}

	segments := strings.Split(strings.TrimPrefix(did, DIDPrefix), ":")
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: missing path segments", ErrInvalidDIDFormat)
	}

	authority, err := url.PathUnescape(segments[0])
	if err != nil {
		return nil, fmt.Errorf("%w: unescape host: %v", ErrInvalidDIDFormat, err)
	}

	host := authority
	port := 0
	if idx := strings.LastIndex(authority, ":"); idx >= 0 {
		host = authority[:idx]
		port, err = strconv.Atoi(authority[idx+1:])
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidDIDFormat, authority[idx+1:])
		}
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidDIDFormat)
	}

	pathType := DIDTypeUser
	// Canonical form is host:wba:<type>:<hex16>; the local id is always the
	// last segment.
	if len(segments) >= 3 {
		pathType = segments[len(segments)-2]
	}
	if pathType != DIDTypeUser && pathType != DIDTypeHostUser {
		return nil, fmt.Errorf("%w: unknown path type %q", ErrInvalidDIDFormat, pathType)
	}

	localID := segments[len(segments)-1]
	if !IsHex16(localID) {
		return nil, fmt.Errorf("%w: local id must be 16 hex digits", ErrInvalidDIDFormat)
	}

	return &DID{
		Raw:      did,
		Host:     host,
		Port:     port,
		PathType: pathType,
		LocalID:  localID,
	}, nil
}

// BuildDID assembles a did:wba identifier for a local agent.
func BuildDID(host string, port int, pathType, localID string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidDIDFormat)
	}
	if pathType == "" {
		pathType = DIDTypeUser
	}
	if !IsHex16(localID) {
		return "", fmt.Errorf("%w: local id must be 16 hex digits", ErrInvalidDIDFormat)
	}

	authority := host
	if port > 0 {
		authority = fmt.Sprintf("%s%%3A%d", host, port)
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", DIDPrefix, authority, DIDSegmentWBA, pathType, localID), nil
}

// NewLocalID generates a fresh 16-hex-digit local id.
func NewLocalID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate local id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsHex16 reports whether s is exactly 16 lowercase-insensitive hex digits.
func IsHex16(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
