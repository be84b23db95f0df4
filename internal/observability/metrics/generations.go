// Package metrics provides standardised metric emission helpers.
package metrics

import (
	"time"

	obserrors "github.com/soundloom/soundloom/internal/observability/errors"
	"github.com/soundloom/soundloom/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// GenerationMetric captures details about a generation lifecycle event for metric emission.
type GenerationMetric struct {
	Service    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitGenerationLifecycle emits standardised generation lifecycle metrics.
func EmitGenerationLifecycle(sink statsd.Sink, in GenerationMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"service":    in.Service,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("generation.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("generation.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
