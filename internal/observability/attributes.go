// Package observability provides the driver's OpenTelemetry metrics, exported for Prometheus.
package observability

import (
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrEndpoint = "endpoint"
	attrStatus   = "status"
	attrState    = "state"
	attrFrom     = "from"
	attrSuccess  = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func endpointAttr(rawURL string) attribute.KeyValue {
	return attribute.String(attrEndpoint, endpoint(rawURL))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality; 0 means no response
	if code == 0 {
		return attribute.String(attrStatus, "none")
	}
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func fromAttr(state string) attribute.KeyValue {
	if state == "" {
		state = "none"
	}
	return attribute.String(attrFrom, state)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// endpoint maps a provider URL to a low-cardinality name.
// .../jobs.json -> jobs, .../jobs/abc123.json -> job
func endpoint(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch {
	case strings.HasSuffix(p, "/jobs.json"):
		return "jobs"
	case strings.Contains(p, "/jobs/"):
		return "job"
	default:
		return "other"
	}
}
