package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"peercall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCall(caller string) *domain.Call {
	return &domain.Call{
		GroupID:  "g1",
		CallerID: domain.UserID(caller),
		Status:   domain.CallOffering,
		Type:     domain.CallRegular,
		Offer:    &domain.Description{Type: "offer", SDP: "v=0 o1"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCreateCall_IssuesID(t *testing.T) {
	repo := NewCallRepository()
	id, err := repo.CreateCall(context.Background(), newCall("alice"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := repo.GetCall(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), got.CallerID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetCall_NotFound(t *testing.T) {
	repo := NewCallRepository()
	_, err := repo.GetCall(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestUpdateCall_MergesFields(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	answered := domain.CallAnswered
	err = repo.UpdateCall(ctx, id, domain.CallPatch{
		Status: &answered,
		Answer: &domain.Description{Type: "answer", SDP: "v=0 a1"},
	})
	require.NoError(t, err)

	got, err := repo.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CallAnswered, got.Status)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "v=0 a1", got.Answer.SDP)
	// Untouched fields survive the merge.
	require.NotNil(t, got.Offer)
	assert.Equal(t, "v=0 o1", got.Offer.SDP)
}

func TestUpdateCall_ClearAnswerSentinel(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	answered := domain.CallAnswered
	require.NoError(t, repo.UpdateCall(ctx, id, domain.CallPatch{
		Status: &answered,
		Answer: &domain.Description{Type: "answer", SDP: "v=0 a1"},
	}))

	offering := domain.CallOffering
	require.NoError(t, repo.UpdateCall(ctx, id, domain.CallPatch{
		Status:      &offering,
		ClearAnswer: true,
	}))

	got, err := repo.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CallOffering, got.Status)
	assert.Nil(t, got.Answer)
}

func TestDeleteCall_Idempotent(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteCall(ctx, id))
	require.NoError(t, repo.DeleteCall(ctx, id))
	require.NoError(t, repo.DeleteCall(ctx, "never-existed"))
}

func TestWatchCall_DeliversInitialStateAndChanges(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []*domain.Call
	cancel, err := repo.WatchCall(ctx, id, func(c *domain.Call) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	assert.Equal(t, domain.CallOffering, seen[0].Status)

	answered := domain.CallAnswered
	require.NoError(t, repo.UpdateCall(ctx, id, domain.CallPatch{Status: &answered}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
	assert.Equal(t, domain.CallAnswered, seen[1].Status)
}

func TestWatchCall_DeletionDeliversNil(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	var mu sync.Mutex
	var last *domain.Call
	var count int
	cancel, err := repo.WatchCall(ctx, id, func(c *domain.Call) {
		mu.Lock()
		last = c
		count++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, repo.DeleteCall(ctx, id))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2 && last == nil
	})
}

func TestWatchCandidates_ReplaysExistingThenNew(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	require.NoError(t, repo.AddCandidate(ctx, id, &domain.Candidate{Origin: "alice", Candidate: "c1"}))
	require.NoError(t, repo.AddCandidate(ctx, id, &domain.Candidate{Origin: "alice", Candidate: "c2"}))

	var mu sync.Mutex
	var seen []string
	cancel, err := repo.WatchCandidates(ctx, id, func(c *domain.Candidate) {
		mu.Lock()
		seen = append(seen, c.Candidate)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, repo.AddCandidate(ctx, id, &domain.Candidate{Origin: "bob", Candidate: "c3"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})
	assert.Equal(t, []string{"c1", "c2", "c3"}, seen)
}

func TestWatchCalls_DeliversExistingAndAdds(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	_, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	var mu sync.Mutex
	var callers []domain.UserID
	cancel, err := repo.WatchCalls(ctx, func(c *domain.Call) {
		mu.Lock()
		callers = append(callers, c.CallerID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	_, err = repo.CreateCall(ctx, newCall("bob"))
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(callers) == 2
	})
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, callers)
}

func TestWatchCall_CancelStopsDelivery(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	var mu sync.Mutex
	var count int
	cancel, err := repo.WatchCall(ctx, id, func(*domain.Call) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	cancel()
	answered := domain.CallAnswered
	require.NoError(t, repo.UpdateCall(ctx, id, domain.CallPatch{Status: &answered}))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestUpdateCall_SnapshotsDoNotAlias(t *testing.T) {
	repo := NewCallRepository()
	ctx := context.Background()
	id, err := repo.CreateCall(ctx, newCall("alice"))
	require.NoError(t, err)

	got, err := repo.GetCall(ctx, id)
	require.NoError(t, err)
	got.Offer.SDP = "mutated"

	again, err := repo.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "v=0 o1", again.Offer.SDP)
}
