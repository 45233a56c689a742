// Package directory: шлюз к удаленному каталогу групп.
package directory

import (
	"context"

	"github.com/xela07ax/groupflow/internal/domain"
)

// Result: ответ каталога на мутацию. Success=false возвращается как ошибка,
// поэтому вызывающий видит Result только для успешных операций.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

// Gateway: операции каталога, которые использует ядро.
type Gateway interface {
	CreateGroup(ctx context.Context, spec domain.CreateGroupPayload) (Result, error)
	AddMembers(ctx context.Context, groupID string, users []string) (Result, error)
	RemoveMembers(ctx context.Context, groupID string, users []string) (Result, error)
	DeleteGroup(ctx context.Context, groupID string) (Result, error)
	UpdateField(ctx context.Context, groupID, field, value string) (Result, error)
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	ChangeOwner(ctx context.Context, groupID, newOwner string) (Result, error)
}

// Типы операций в конверте запроса к каталогу.
const (
	OpCreateDistribution = "CreateDistributionGroup"
	OpCreateSecurity     = "CreateSecurityGroup"
	OpAdd                = "Add"
	OpRemove             = "Remove"
	OpDeleteDistribution = "DeleteDistribution"
	OpChangeDisplayName  = "changeDisplayName"
	OpChangeSecurityName = "ChangeSecurityName"
	OpChangeOwner        = "ChangeOwner"
)

// Поля, которые можно менять через UpdateField.
const (
	FieldDisplayName = "displayName"
	FieldName        = "name"
)

func createOp(groupType string) string {
	if groupType == "security" {
		return OpCreateSecurity
	}
	return OpCreateDistribution
}

func updateOp(field string) string {
	if field == FieldName {
		return OpChangeSecurityName
	}
	return OpChangeDisplayName
}
