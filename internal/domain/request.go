package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestKind: тип заявки.
type RequestKind string

const (
	KindCreateGroup       RequestKind = "CreateGroup"
	KindJoinGroup         RequestKind = "JoinGroup"
	KindTransferOwnership RequestKind = "TransferOwnership"
)

func (k RequestKind) Valid() bool {
	switch k {
	case KindCreateGroup, KindJoinGroup, KindTransferOwnership:
		return true
	}
	return false
}

// Статусы State Machine
type RequestStatus string

const (
	StatusPending  RequestStatus = "Pending"
	StatusApproved RequestStatus = "Approved"
	StatusDenied   RequestStatus = "Denied"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied:
		return true
	}
	return false
}

// Decision: решение проверяющего по заявке.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Request: единица работы, проходящая через конечный автомат согласования.
type Request struct {
	ID       string        `json:"id"`
	Kind     RequestKind   `json:"kind"`
	Creator  string        `json:"creator"`
	Approver string        `json:"approver,omitempty"` // Может быть пустым до принятия решения
	Status   RequestStatus `json:"status"`

	// Ровно одно из полей заполнено, в зависимости от Kind
	Create   *CreateGroupPayload       `json:"create,omitempty"`
	Join     *JoinGroupPayload         `json:"join,omitempty"`
	Transfer *TransferOwnershipPayload `json:"transfer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateGroupPayload: данные заявки на создание группы.
type CreateGroupPayload struct {
	GroupID        string   `json:"group_id"` // Сгенерированный ID или имя, выбранное человеком
	GroupName      string   `json:"group_name"`
	DisplayName    string   `json:"display_name,omitempty"`
	Hierarchy      string   `json:"hierarchy"`
	Classification string   `json:"classification"`
	Owner          string   `json:"owner"`
	Members        []string `json:"members"`
	Type           string   `json:"type"`
}

type JoinGroupPayload struct {
	GroupID string `json:"group_id"`
	User    string `json:"user"`
	Reason  string `json:"reason,omitempty"`
}

type TransferOwnershipPayload struct {
	GroupID  string `json:"group_id"`
	NewOwner string `json:"new_owner"`
}

// GroupID возвращает целевую группу заявки независимо от её типа.
func (r *Request) GroupID() string {
	switch {
	case r.Create != nil:
		return r.Create.GroupID
	case r.Join != nil:
		return r.Join.GroupID
	case r.Transfer != nil:
		return r.Transfer.GroupID
	}
	return ""
}

// CanTransitionTo проверяет правила конечного автомата
func (r *Request) CanTransitionTo(next RequestStatus) error {
	if r.Status != StatusPending {
		return ErrAlreadyDecided
	}
	if next == StatusPending || !next.Valid() {
		return ErrInvalidTransition
	}
	return nil
}

// payloadEnvelope: форма хранения полезной нагрузки в одной JSON-колонке.
type payloadEnvelope struct {
	Create   *CreateGroupPayload       `json:"create,omitempty"`
	Join     *JoinGroupPayload         `json:"join,omitempty"`
	Transfer *TransferOwnershipPayload `json:"transfer,omitempty"`
}

// MarshalPayload сериализует полезную нагрузку для записи в хранилище.
func (r *Request) MarshalPayload() ([]byte, error) {
	return json.Marshal(payloadEnvelope{Create: r.Create, Join: r.Join, Transfer: r.Transfer})
}

// UnmarshalPayload восстанавливает полезную нагрузку и сверяет её с Kind.
func (r *Request) UnmarshalPayload(data []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode request payload: %w", err)
	}
	r.Create, r.Join, r.Transfer = env.Create, env.Join, env.Transfer

	ok := false
	switch r.Kind {
	case KindCreateGroup:
		ok = r.Create != nil
	case KindJoinGroup:
		ok = r.Join != nil
	case KindTransferOwnership:
		ok = r.Transfer != nil
	}
	if !ok {
		return fmt.Errorf("request %s: payload does not match kind %q", r.ID, r.Kind)
	}
	return nil
}

// RequestPatch: частичное обновление заявки.
// ExpectStatus превращает обновление в compare-and-set: запись меняется,
// только если её текущий статус совпадает.
type RequestPatch struct {
	Status       *RequestStatus
	Approver     *string
	ExpectStatus RequestStatus
}

// RequestQuery: фильтр выборки заявок. Пустые поля не участвуют в фильтрации.
type RequestQuery struct {
	Creator  string
	Approver string
	Status   RequestStatus
	Kind     RequestKind
	Limit    int
}
