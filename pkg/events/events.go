// Package events 定义了发送到 Kafka 的包生命周期事件。
package events

import (
	"time"

	"github.com/google/uuid"
)

// 事件类型
const (
	TypeSubmitted = "package.submitted"
	TypeAccepted  = "package.accepted"
	TypeRejected  = "package.rejected"
	TypeChanged   = "package.changed"
)

// PackageEvent 表示一次包状态的变化。
type PackageEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	PackageID   uint      `json:"package_id"`
	PackageName string    `json:"package_name"`
	OwnerID     *uint     `json:"owner_id,omitempty"`
	FromState   string    `json:"from_state"`
	ToState     string    `json:"to_state"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// New 创建一个带有唯一 ID 和当前时间的事件。
func New(eventType string, packageID uint, packageName string, ownerID *uint, from, to string) PackageEvent {
	return PackageEvent{
		EventID:     uuid.NewString(),
		Type:        eventType,
		PackageID:   packageID,
		PackageName: packageName,
		OwnerID:     ownerID,
		FromState:   from,
		ToState:     to,
		OccurredAt:  time.Now().UTC(),
	}
}
