package push

import "github.com/hitoshi/mandapadmin/internal/model"

// プッシュイベント名
const (
	EventNewUserRegistration     = "newUserRegistration"
	EventNewProviderRegistration = "newProviderRegistration"
	EventApprovalStatusUpdate    = "approvalStatusUpdate"
)

// クライアントから送られるイベント名
const (
	EventJoinAdminRoom = "joinAdminRoom"
)

// EventJoined はルーム参加完了をクライアントへ知らせるイベント名。
// これより後にブロードキャストされたイベントは必ず配信される。
const EventJoined = "joined"

// Event はWebSocket上でやり取りするフレーム。
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// RegistrationPayload は登録系イベントのペイロード。
// 通知本体と、登録されたユーザーまたはプロバイダーのどちらか一方を含む。
type RegistrationPayload struct {
	Notification *model.Notification `json:"notification"`
	User         *model.User         `json:"user,omitempty"`
	Provider     *model.Provider     `json:"provider,omitempty"`
}

// NewUserRegistration はユーザー登録イベントを生成する。
func NewUserRegistration(n *model.Notification, u *model.User) Event {
	return Event{
		Name: EventNewUserRegistration,
		Data: RegistrationPayload{Notification: n, User: u},
	}
}

// NewProviderRegistration はプロバイダー登録イベントを生成する。
func NewProviderRegistration(n *model.Notification, p *model.Provider) Event {
	return Event{
		Name: EventNewProviderRegistration,
		Data: RegistrationPayload{Notification: n, Provider: p},
	}
}

// ApprovalStatusUpdate は承認状態の変更イベントを生成する。
func ApprovalStatusUpdate(d *model.ApprovalDecision) Event {
	return Event{
		Name: EventApprovalStatusUpdate,
		Data: d,
	}
}

// Joined はルーム参加完了の確認イベントを生成する。
func Joined(room string) Event {
	return Event{
		Name: EventJoined,
		Data: room,
	}
}
