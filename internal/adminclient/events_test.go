package adminclient

import (
	"encoding/json"
	"testing"

	"github.com/hitoshi/mandapadmin/internal/model"
	"github.com/hitoshi/mandapadmin/internal/push"
)

// frameOf はサーバーが送るのと同じ形でイベントをFrameへ変換する。
func frameOf(t *testing.T, e push.Event) Frame {
	t.Helper()
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func TestEventBus_DispatchUserRegistration(t *testing.T) {
	bus := NewEventBus()
	var got UserRegistration
	calls := 0
	bus.OnNewUserRegistration(func(p UserRegistration) {
		got = p
		calls++
	})
	bus.OnNewProviderRegistration(func(ProviderRegistration) {
		t.Error("provider handler must not be called")
	})

	ev := push.NewUserRegistration(&model.Notification{ID: "n-1"}, &model.User{ID: "u-1", FullName: "Asha"})
	if err := bus.Dispatch(frameOf(t, ev)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if got.Notification == nil || got.Notification.ID != "n-1" {
		t.Errorf("notification = %+v", got.Notification)
	}
	if got.User == nil || got.User.FullName != "Asha" {
		t.Errorf("user = %+v", got.User)
	}
}

func TestEventBus_DispatchProviderRegistration(t *testing.T) {
	bus := NewEventBus()
	var got ProviderRegistration
	bus.OnNewProviderRegistration(func(p ProviderRegistration) { got = p })

	ev := push.NewProviderRegistration(&model.Notification{ID: "n-2"}, &model.Provider{ID: "p-1", Name: "Lotus Hall"})
	if err := bus.Dispatch(frameOf(t, ev)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got.Provider == nil || got.Provider.Name != "Lotus Hall" {
		t.Errorf("provider = %+v", got.Provider)
	}
}

func TestEventBus_DispatchApprovalStatusUpdateToAllHandlers(t *testing.T) {
	bus := NewEventBus()
	var first, second model.ApprovalDecision
	bus.OnApprovalStatusUpdate(func(d model.ApprovalDecision) { first = d })
	bus.OnApprovalStatusUpdate(func(d model.ApprovalDecision) { second = d })

	ev := push.ApprovalStatusUpdate(&model.ApprovalDecision{RequestID: "r-1", ProviderID: "p-1", Outcome: model.ApprovalRejected})
	if err := bus.Dispatch(frameOf(t, ev)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	for _, d := range []model.ApprovalDecision{first, second} {
		if d.RequestID != "r-1" || d.Outcome != model.ApprovalRejected {
			t.Errorf("decision = %+v", d)
		}
	}
}

func TestEventBus_UnknownEventIgnored(t *testing.T) {
	bus := NewEventBus()
	if err := bus.Dispatch(Frame{Event: "somethingElse", Data: json.RawMessage(`{}`)}); err != nil {
		t.Errorf("Dispatch() error = %v, want nil", err)
	}
}

func TestEventBus_MalformedPayload(t *testing.T) {
	bus := NewEventBus()
	bus.OnApprovalStatusUpdate(func(model.ApprovalDecision) {
		t.Error("handler must not be called for a malformed payload")
	})
	err := bus.Dispatch(Frame{Event: push.EventApprovalStatusUpdate, Data: json.RawMessage(`"not an object"`)})
	if err == nil {
		t.Error("Dispatch() error = nil, want decode error")
	}
}
