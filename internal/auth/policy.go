package auth

import (
	"net/http"
	"strings"
)

const flightsPrefix = "/api/flights/"

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if r.Method == http.MethodOptions {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	if _, ok := DeviceFlight(r); ok {
		return RoleDevice, true
	}

	switch {
	case path == "/api/flights":
		if method == http.MethodPost {
			return RoleOperator, true
		}
		return RoleViewer, true
	case path == "/api/live", path == "/api/live/stream":
		return RoleViewer, true
	case strings.HasPrefix(path, flightsPrefix):
		if strings.Contains(path, "/logs/export.") {
			return RoleViewer, true
		}
		if method == http.MethodGet || method == http.MethodHead {
			return RoleViewer, true
		}
		return RoleOperator, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}

// DeviceFlight reports whether the request targets a device route and returns
// the flight id from its path.
func DeviceFlight(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	flightID, rest, ok := splitFlightPath(r.URL.Path)
	if !ok {
		return "", false
	}
	switch {
	case rest == "commands/next" && r.Method == http.MethodGet:
		return flightID, true
	case rest == "commands/ack" && r.Method == http.MethodPost:
		return flightID, true
	case rest == "logs" && r.Method == http.MethodPost:
		return flightID, true
	}
	return "", false
}

func splitFlightPath(path string) (flightID, rest string, ok bool) {
	if !strings.HasPrefix(path, flightsPrefix) {
		return "", "", false
	}
	tail := strings.TrimPrefix(path, flightsPrefix)
	flightID, rest, found := strings.Cut(tail, "/")
	if !found || flightID == "" {
		return "", "", false
	}
	return flightID, strings.TrimSuffix(rest, "/"), true
}
