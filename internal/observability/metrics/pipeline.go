// Package metrics provides standardized pipeline metric emission helpers.
package metrics

import (
	"time"

	obserrors "github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/errors"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// SubmissionMetric captures one submission attempt outcome for emission.
type SubmissionMetric struct {
	TargetID   string
	Outcome    string
	ErrorClass string
	Attempt    int
	Duration   time.Duration
	Err        error
}

// EmitSubmissionAttempt emits standardized per-attempt submission metrics.
func EmitSubmissionAttempt(sink statsd.Sink, in SubmissionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"target_id": in.TargetID,
		"outcome":   in.Outcome,
	}
	if in.ErrorClass != "" {
		tags["error_class"] = in.ErrorClass
	} else if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("submission.attempt", 1, tags)
	if in.Duration > 0 {
		sink.Timing("submission.attempt_duration", in.Duration, CloneTags(tags))
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
