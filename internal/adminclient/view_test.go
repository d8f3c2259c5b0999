package adminclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mandapadmin/internal/model"
)

type fakeFetcher struct {
	usersFn     func(ctx context.Context) ([]*model.User, error)
	providersFn func(ctx context.Context) ([]*model.Provider, error)
	requestsFn  func(ctx context.Context) ([]model.ApprovalRequestWithProvider, error)
	decideFn    func(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error)

	requestCalls atomic.Int32
}

func (f *fakeFetcher) Users(ctx context.Context) ([]*model.User, error) {
	if f.usersFn != nil {
		return f.usersFn(ctx)
	}
	return nil, nil
}

func (f *fakeFetcher) Providers(ctx context.Context) ([]*model.Provider, error) {
	if f.providersFn != nil {
		return f.providersFn(ctx)
	}
	return nil, nil
}

func (f *fakeFetcher) ApprovalRequests(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRequestWithProvider, error) {
	f.requestCalls.Add(1)
	if f.requestsFn != nil {
		return f.requestsFn(ctx)
	}
	return nil, nil
}

func (f *fakeFetcher) Decide(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error) {
	if f.decideFn != nil {
		return f.decideFn(ctx, requestID, outcome)
	}
	return nil, nil
}

func pendingRequest(id string) model.ApprovalRequestWithProvider {
	return model.ApprovalRequestWithProvider{
		ApprovalRequest: model.ApprovalRequest{ID: id, ProviderID: "p-" + id, Status: model.ApprovalPending},
		Provider:        model.Provider{ID: "p-" + id, Name: "Venue " + id},
	}
}

func TestView_RefetchFailureKeepsPreviousListAndExposesRetry(t *testing.T) {
	fail := true
	api := &fakeFetcher{}
	calls := 0
	api.usersFn = func(ctx context.Context) ([]*model.User, error) {
		calls++
		switch {
		case calls == 1:
			return []*model.User{{ID: "u-1"}}, nil
		case fail:
			return nil, errors.New("503 from server")
		default:
			return []*model.User{{ID: "u-1"}, {ID: "u-2"}}, nil
		}
	}
	v := NewView(api, nil, nil)
	ctx := context.Background()

	require.NoError(t, v.Refetch(ctx, CollectionUsers))
	require.Len(t, v.Users(), 1)

	err := v.Refetch(ctx, CollectionUsers)
	var refetchErr *RefetchError
	require.ErrorAs(t, err, &refetchErr)
	assert.Equal(t, CollectionUsers, refetchErr.Collection)

	// 直前のデータは保持され、エラーは参照できる
	assert.Len(t, v.Users(), 1)
	assert.NotNil(t, v.Err(CollectionUsers))

	fail = false
	require.NoError(t, v.Retry(ctx, CollectionUsers))
	assert.Len(t, v.Users(), 2)
	assert.Nil(t, v.Err(CollectionUsers))
}

func TestView_SupersededRefetchIsDiscarded(t *testing.T) {
	releaseFirst := make(chan struct{})
	firstStarted := make(chan struct{})
	var n atomic.Int32

	api := &fakeFetcher{
		providersFn: func(ctx context.Context) ([]*model.Provider, error) {
			if n.Add(1) == 1 {
				close(firstStarted)
				<-releaseFirst
				return []*model.Provider{{ID: "stale"}}, nil
			}
			return []*model.Provider{{ID: "fresh"}}, nil
		},
	}
	v := NewView(api, nil, nil)
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() { firstErr <- v.Refetch(ctx, CollectionProviders) }()
	<-firstStarted

	require.NoError(t, v.Refetch(ctx, CollectionProviders))
	close(releaseFirst)

	assert.ErrorIs(t, <-firstErr, ErrSuperseded)
	providers := v.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "fresh", providers[0].ID)
}

func TestView_SupersededFailureDoesNotMarkError(t *testing.T) {
	releaseFirst := make(chan struct{})
	firstStarted := make(chan struct{})
	var n atomic.Int32

	api := &fakeFetcher{
		usersFn: func(ctx context.Context) ([]*model.User, error) {
			if n.Add(1) == 1 {
				close(firstStarted)
				<-releaseFirst
				return nil, errors.New("timeout")
			}
			return []*model.User{{ID: "u-1"}}, nil
		},
	}
	v := NewView(api, nil, nil)

	firstErr := make(chan error, 1)
	go func() { firstErr <- v.Refetch(context.Background(), CollectionUsers) }()
	<-firstStarted
	require.NoError(t, v.Refetch(context.Background(), CollectionUsers))
	close(releaseFirst)

	assert.ErrorIs(t, <-firstErr, ErrSuperseded)
	assert.Nil(t, v.Err(CollectionUsers))
}

func TestView_DecideOptimisticThenServerWins(t *testing.T) {
	server := []model.ApprovalRequestWithProvider{pendingRequest("r-1")}
	var mu sync.Mutex
	var observedDuringCall model.ApprovalStatus

	api := &fakeFetcher{
		requestsFn: func(ctx context.Context) ([]model.ApprovalRequestWithProvider, error) {
			mu.Lock()
			defer mu.Unlock()
			out := make([]model.ApprovalRequestWithProvider, len(server))
			copy(out, server)
			return out, nil
		},
	}
	v := NewView(api, nil, nil)
	require.NoError(t, v.Refetch(context.Background(), CollectionRequests))

	api.decideFn = func(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error) {
		r, _ := v.Request(requestID)
		observedDuringCall = r.Status
		mu.Lock()
		server[0].Status = outcome
		mu.Unlock()
		return &model.ApprovalDecision{RequestID: requestID, Outcome: outcome}, nil
	}

	decision, err := v.Decide(context.Background(), "r-1", model.ApprovalApproved)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, decision.Outcome)
	assert.Equal(t, model.ApprovalApproved, observedDuringCall, "local status flips before the server answers")

	r, ok := v.Request("r-1")
	require.True(t, ok)
	assert.Equal(t, model.ApprovalApproved, r.Status)
	assert.EqualValues(t, 2, api.requestCalls.Load(), "a refetch follows the decision")
}

func TestView_DecideFailureRollsBackAndRefetches(t *testing.T) {
	api := &fakeFetcher{}
	v := NewView(api, nil, nil)

	// 初回取得は成功、判断後の再取得は失敗させて楽観値の巻き戻しだけを観測する
	var n atomic.Int32
	api.requestsFn = func(ctx context.Context) ([]model.ApprovalRequestWithProvider, error) {
		if n.Add(1) == 1 {
			return []model.ApprovalRequestWithProvider{pendingRequest("r-1")}, nil
		}
		return nil, errors.New("network down")
	}
	require.NoError(t, v.Refetch(context.Background(), CollectionRequests))

	invalid := &Error{StatusCode: 409, Code: model.ErrCodeInvalidState}
	api.decideFn = func(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error) {
		return nil, invalid
	}

	_, err := v.Decide(context.Background(), "r-1", model.ApprovalRejected)
	require.ErrorIs(t, err, invalid)
	assert.True(t, IsCode(err, model.ErrCodeInvalidState))

	r, _ := v.Request("r-1")
	assert.Equal(t, model.ApprovalPending, r.Status, "optimistic value is rolled back")
	assert.EqualValues(t, 2, n.Load(), "refetch is attempted even on failure")
	assert.NotNil(t, v.Err(CollectionRequests))
}

func TestView_DecideFailureKeepsAuthoritativeValueAfterRefetch(t *testing.T) {
	// サーバー側では別の管理者が既に承認済み
	api := &fakeFetcher{}
	var n atomic.Int32
	api.requestsFn = func(ctx context.Context) ([]model.ApprovalRequestWithProvider, error) {
		r := pendingRequest("r-1")
		if n.Add(1) > 1 {
			r.Status = model.ApprovalApproved
		}
		return []model.ApprovalRequestWithProvider{r}, nil
	}
	v := NewView(api, nil, nil)
	require.NoError(t, v.Refetch(context.Background(), CollectionRequests))

	api.decideFn = func(ctx context.Context, requestID string, outcome model.ApprovalStatus) (*model.ApprovalDecision, error) {
		return nil, &Error{StatusCode: 409, Code: model.ErrCodeInvalidState}
	}

	_, err := v.Decide(context.Background(), "r-1", model.ApprovalRejected)
	require.Error(t, err)

	r, _ := v.Request("r-1")
	assert.Equal(t, model.ApprovalApproved, r.Status)
}

func TestView_AttachRefetchesAffectedCollections(t *testing.T) {
	var users, providers, requests atomic.Int32
	api := &fakeFetcher{
		usersFn: func(ctx context.Context) ([]*model.User, error) {
			users.Add(1)
			return nil, nil
		},
		providersFn: func(ctx context.Context) ([]*model.Provider, error) {
			providers.Add(1)
			return nil, nil
		},
		requestsFn: func(ctx context.Context) ([]model.ApprovalRequestWithProvider, error) {
			requests.Add(1)
			return nil, nil
		},
	}
	v := NewView(api, nil, nil)
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v.Attach(ctx, bus)

	require.NoError(t, bus.Dispatch(Frame{Event: "newUserRegistration", Data: []byte(`{"notification":{"id":"n-1"},"user":{"id":"u-1"}}`)}))
	require.Eventually(t, func() bool { return users.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, providers.Load())

	require.NoError(t, bus.Dispatch(Frame{Event: "approvalStatusUpdate", Data: []byte(`{"requestId":"r-1","providerId":"p-1","status":"approved"}`)}))
	require.Eventually(t, func() bool { return requests.Load() == 1 && providers.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Dispatch(Frame{Event: "newProviderRegistration", Data: []byte(`{"notification":{"id":"n-2"},"provider":{"id":"p-2"}}`)}))
	require.Eventually(t, func() bool { return requests.Load() == 2 && providers.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, users.Load())
}

func TestView_OnChangeIsCalledOutsideLock(t *testing.T) {
	var v *View
	var seen []Collection
	v = NewView(&fakeFetcher{}, nil, func(c Collection) {
		// ロック外で呼ばれるのでViewを読める
		_ = v.Users()
		seen = append(seen, c)
	})

	require.NoError(t, v.Refetch(context.Background(), CollectionUsers))
	assert.Equal(t, []Collection{CollectionUsers}, seen)
}
