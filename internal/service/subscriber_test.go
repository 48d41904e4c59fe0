package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/data"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
)

func newTestSubscriber(t *testing.T, store *fakeStore, queue *fakeQueue, op core.SubmissionOperation) *Subscriber {
	t.Helper()
	exec := newTestExecutor(t, store, queue, &fakeHistory{}, op)
	sub, err := NewSubscriber(SubscriberOptions{
		Store:       store,
		Queue:       queue,
		Executor:    exec,
		WorkerID:    "w-1",
		Concurrency: 2,
	})
	require.NoError(t, err)
	return sub
}

func succeedingOp(ref string) core.SubmissionOperation {
	return core.SubmissionOperationFunc(func(ctx context.Context, data json.RawMessage, targetID string) (string, error) {
		return ref, nil
	})
}

func TestNewSubscriberGeneratesWorkerID(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	sub, err := NewSubscriber(SubscriberOptions{
		Store:    store,
		Queue:    queue,
		Executor: newTestExecutor(t, store, queue, &fakeHistory{}, succeedingOp("r")),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.WorkerID())
}

func TestSubscriberAcksUnknownJob(t *testing.T) {
	store := &fakeStore{
		getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
			return nil, data.ErrJobNotFound
		},
	}
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "gone"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	assert.True(t, d.acked)
	assert.False(t, d.nacked)
}

func TestSubscriberAcksTerminalJob(t *testing.T) {
	job := testJob("job-1")
	job.Status = model.JobStatusCompleted
	store := &fakeStore{
		getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
	}
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	assert.True(t, d.acked)
	assert.Empty(t, store.recordedParams())
}

func TestSubscriberNacksWhenStoreUnreachable(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &fakeStore{
		getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
			return nil, storeErr
		},
	}
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	err := sub.handleDelivery(context.Background(), d.delivery)
	assert.ErrorIs(t, err, storeErr)
	assert.True(t, d.nacked)
	assert.False(t, d.acked)
}

func heldElsewhereStore(job *model.Job, targets []*model.TargetResult) *fakeStore {
	return &fakeStore{
		getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
		claimJobFn: func(ctx context.Context, jobID, workerID string) (*model.Job, core.Claim, error) {
			return nil, core.Claim{}, data.ErrJobAlreadyClaimed
		},
		getTargetResultFn: func(ctx context.Context, jobID, targetID string) (*model.TargetResult, error) {
			for _, tr := range targets {
				if tr.TargetID == targetID {
					return tr, nil
				}
			}
			return nil, data.ErrTargetNotFound
		},
	}
}

func TestSubscriberDropsDuplicateDispatchWhenJobClaimedElsewhere(t *testing.T) {
	store := heldElsewhereStore(testJob("job-1"), nil)
	queue := &fakeQueue{}
	sub := newTestSubscriber(t, store, queue, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	assert.True(t, d.acked)
	assert.Empty(t, store.recordedParams())
	assert.Empty(t, queue.delayedMessages())
}

func TestSubscriberReschedulesHeldTargetedRetry(t *testing.T) {
	target := testTarget("job-1", "yelp", 1)
	target.Status = model.TargetStatusFailedRetryable
	store := heldElsewhereStore(testJob("job-1"), []*model.TargetResult{target})
	queue := &fakeQueue{}
	sub := newTestSubscriber(t, store, queue, succeedingOp("r"))

	msg := core.Message{JobID: "job-1", TargetID: "yelp", AttemptCount: 1}
	d := newTestDelivery(msg)
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	// The retry message is the target's only carrier of future work; it must
	// survive the contention rather than vanish.
	delayed := queue.delayedMessages()
	require.Len(t, delayed, 1)
	assert.Equal(t, msg, delayed[0].Message)
	assert.Positive(t, delayed[0].Delay)
	assert.True(t, d.acked)
	assert.False(t, d.nacked)
}

func TestSubscriberDropsHeldTargetedRetryForTerminalTarget(t *testing.T) {
	target := testTarget("job-1", "yelp", 3)
	target.Status = model.TargetStatusSuccess
	store := heldElsewhereStore(testJob("job-1"), []*model.TargetResult{target})
	queue := &fakeQueue{}
	sub := newTestSubscriber(t, store, queue, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "job-1", TargetID: "yelp", AttemptCount: 3})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	assert.True(t, d.acked)
	assert.Empty(t, queue.delayedMessages())
}

func claimingStore(job *model.Job, targets []*model.TargetResult) *fakeStore {
	claim := core.Claim{JobID: job.ID, WorkerID: "w-1", Generation: 1}
	return &fakeStore{
		getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
			return job, nil
		},
		claimJobFn: func(ctx context.Context, jobID, workerID string) (*model.Job, core.Claim, error) {
			return job, claim, nil
		},
		listPendingTargetsFn: func(ctx context.Context, jobID string) ([]*model.TargetResult, error) {
			return targets, nil
		},
		getTargetResultFn: func(ctx context.Context, jobID, targetID string) (*model.TargetResult, error) {
			for _, tr := range targets {
				if tr.TargetID == targetID {
					return tr, nil
				}
			}
			return nil, data.ErrTargetNotFound
		},
	}
}

func TestSubscriberExecutesAllPendingTargets(t *testing.T) {
	job := testJob("job-1")
	targets := []*model.TargetResult{
		testTarget("job-1", "yelp", 0),
		testTarget("job-1", "gmb", 0),
	}
	store := claimingStore(job, targets)
	queue := &fakeQueue{}
	sub := newTestSubscriber(t, store, queue, succeedingOp("ref"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	recorded := store.recordedParams()
	assert.Len(t, recorded, 2)
	seen := map[string]bool{}
	for _, p := range recorded {
		assert.Equal(t, model.TargetStatusSuccess, p.Status)
		seen[p.TargetID] = true
	}
	assert.True(t, seen["yelp"])
	assert.True(t, seen["gmb"])

	assert.Len(t, store.releasedClaims(), 1)
	assert.True(t, d.acked)
}

func TestSubscriberTargetedRetryCoversOneTarget(t *testing.T) {
	job := testJob("job-1")
	targets := []*model.TargetResult{
		testTarget("job-1", "yelp", 1),
		testTarget("job-1", "gmb", 0),
	}
	store := claimingStore(job, targets)
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("ref"))

	d := newTestDelivery(core.Message{JobID: "job-1", TargetID: "yelp", AttemptCount: 1})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	recorded := store.recordedParams()
	require.Len(t, recorded, 1)
	assert.Equal(t, "yelp", recorded[0].TargetID)
	assert.Equal(t, 2, recorded[0].AttemptCount)
	assert.True(t, d.acked)
}

func TestSubscriberReleasesAndNacksOnInfraFailure(t *testing.T) {
	job := testJob("job-1")
	store := claimingStore(job, []*model.TargetResult{testTarget("job-1", "yelp", 0)})
	storeErr := errors.New("write failed")
	store.recordTargetResultFn = func(ctx context.Context, params core.RecordTargetResultParams) (*model.TargetResult, error) {
		return nil, storeErr
	}
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("ref"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	err := sub.handleDelivery(context.Background(), d.delivery)
	assert.ErrorIs(t, err, storeErr)

	assert.Len(t, store.releasedClaims(), 1)
	assert.True(t, d.nacked)
	assert.False(t, d.acked)
}

func TestSubscriberAcksWithoutReleaseWhenSuperseded(t *testing.T) {
	job := testJob("job-1")
	store := claimingStore(job, []*model.TargetResult{testTarget("job-1", "yelp", 0)})
	store.recordTargetResultFn = func(ctx context.Context, params core.RecordTargetResultParams) (*model.TargetResult, error) {
		return nil, submission.ErrClaimSuperseded
	}
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("ref"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	// The reclaiming worker owns the job now; this one just drops the delivery.
	assert.Empty(t, store.releasedClaims())
	assert.True(t, d.acked)
	assert.False(t, d.nacked)
}

func TestSubscriberCompletesJobWhenAllTargetsTerminal(t *testing.T) {
	// A worker died between its last terminal record and TryCompleteJob; the
	// requeued dispatch finds nothing left to run but must still converge.
	job := testJob("job-1")
	job.TargetsDone = job.TargetsTotal
	store := claimingStore(job, nil)
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	assert.Equal(t, []string{"job-1"}, store.completedJobs())
	assert.Empty(t, store.recordedParams())
	assert.True(t, d.acked)
}

func TestSubscriberFailsJobOnCorruptSnapshot(t *testing.T) {
	job := testJob("job-1")
	job.BusinessData = json.RawMessage(`{"name":`)
	store := claimingStore(job, []*model.TargetResult{testTarget("job-1", "yelp", 0)})
	sub := newTestSubscriber(t, store, &fakeQueue{}, succeedingOp("r"))

	d := newTestDelivery(core.Message{JobID: "job-1"})
	require.NoError(t, sub.handleDelivery(context.Background(), d.delivery))

	assert.Equal(t, []string{"job-1"}, store.failedJobs())
	assert.Empty(t, store.recordedParams())
	assert.True(t, d.acked)
}

func TestSubscriberBacksOffAfterHandlingFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &fakeStore{
		getJobFn: func(ctx context.Context, jobID string) (*model.Job, error) {
			return nil, storeErr
		},
	}
	var receives int32
	queue := &fakeQueue{}
	queue.receiveFn = func(ctx context.Context) (*core.Delivery, error) {
		atomic.AddInt32(&receives, 1)
		return newTestDelivery(core.Message{JobID: "job-1"}).delivery, nil
	}
	sub := newTestSubscriber(t, store, queue, succeedingOp("r"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, sub.Run(ctx))

	// One failed delivery, then the backoff holds until the context ends.
	assert.EqualValues(t, 1, atomic.LoadInt32(&receives))
}
