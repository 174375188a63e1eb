package domain

import "time"

// RecordEvent публикуется после успешного создания записи.
type RecordEvent struct {
	Kind       RecordKind `json:"kind"`
	TenantID   string     `json:"tenant_id"`
	RecordID   string     `json:"record_id"`
	OccurredAt time.Time  `json:"occurred_at"`
	Payload    any        `json:"payload"`
}

// RoutingKey возвращает ключ маршрутизации вида "memory.created".
func (e RecordEvent) RoutingKey() string {
	return string(e.Kind) + ".created"
}

// HealthReport описывает состояние зависимостей сервиса.
type HealthReport struct {
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
}
