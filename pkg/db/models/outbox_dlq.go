package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/swiftfleet/dispatch-backend/pkg/enums"
)

// OutboxDLQ stores outbox rows that exhausted their publish attempts.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;not null"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	FailedAt      time.Time                  `gorm:"column:failed_at;autoCreateTime"`
}

// TableName keeps the legacy table naming.
func (OutboxDLQ) TableName() string {
	return "outbox_dlq"
}
