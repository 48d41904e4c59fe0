package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMetric struct {
	Name  string
	Value int64
	Tags  map[string]string
}

type recordingSink struct {
	counts  []recordedMetric
	timings []recordedMetric
}

func (r *recordingSink) Count(name string, value int64, tags map[string]string) {
	r.counts = append(r.counts, recordedMetric{Name: name, Value: value, Tags: tags})
}

func (r *recordingSink) Gauge(name string, value float64, tags map[string]string) {}

func (r *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	r.timings = append(r.timings, recordedMetric{Name: name, Tags: tags})
}

func TestEmitSubmissionAttemptSuccess(t *testing.T) {
	sink := &recordingSink{}
	EmitSubmissionAttempt(sink, SubmissionMetric{
		TargetID: "yelp",
		Outcome:  ResultSuccess,
		Attempt:  1,
		Duration: 250 * time.Millisecond,
	})

	require.Len(t, sink.counts, 1)
	assert.Equal(t, "submission.attempt", sink.counts[0].Name)
	assert.Equal(t, map[string]string{"target_id": "yelp", "outcome": "success"}, sink.counts[0].Tags)

	require.Len(t, sink.timings, 1)
	assert.Equal(t, "submission.attempt_duration", sink.timings[0].Name)
}

func TestEmitSubmissionAttemptTagsErrorClass(t *testing.T) {
	sink := &recordingSink{}
	EmitSubmissionAttempt(sink, SubmissionMetric{
		TargetID:   "yelp",
		Outcome:    ResultError,
		ErrorClass: "transient",
	})

	require.Len(t, sink.counts, 1)
	assert.Equal(t, "transient", sink.counts[0].Tags["error_class"])
	// No duration, no timing.
	assert.Empty(t, sink.timings)
}

func TestEmitSubmissionAttemptDerivesClassFromError(t *testing.T) {
	sink := &recordingSink{}
	EmitSubmissionAttempt(sink, SubmissionMetric{
		TargetID: "yelp",
		Outcome:  ResultError,
		Err:      errors.New("boom"),
	})

	require.Len(t, sink.counts, 1)
	assert.NotEmpty(t, sink.counts[0].Tags["error_class"])
}

func TestEmitSubmissionAttemptNilSink(t *testing.T) {
	EmitSubmissionAttempt(nil, SubmissionMetric{TargetID: "yelp"})
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	assert.Nil(t, CloneTags(map[string]string{}))

	src := map[string]string{"a": "1"}
	clone := CloneTags(src)
	clone["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
