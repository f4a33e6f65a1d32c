package models

import "time"

// EntityKind перечисляет виды сущностей каталога, для которых ведется
// сопоставление идентификаторов между платформами
type EntityKind string

const (
	KindBrand    EntityKind = "brand"
	KindCategory EntityKind = "category"
	KindProduct  EntityKind = "product"
	KindSku      EntityKind = "sku"
)

// IsValid проверяет, что вид сущности известен системе
func (k EntityKind) IsValid() bool {
	switch k {
	case KindBrand, KindCategory, KindProduct, KindSku:
		return true
	}
	return false
}

// CorrelationState — состояние жизненного цикла записи сопоставления.
// Deleted — мягкое удаление: запись сохраняется ради истории и
// идемпотентной повторной обработки уведомлений.
type CorrelationState string

const (
	CorrelationCreated CorrelationState = "created"
	CorrelationUpdated CorrelationState = "updated"
	CorrelationDeleted CorrelationState = "deleted"
)

// CorrelationRecord связывает идентификатор сущности на source-платформе
// с идентификатором той же сущности на target-платформе в рамках интеграции.
// Инвариант: среди записей в состоянии, отличном от Deleted, не более одной
// на (integration, kind, source id) и не более одной на (integration, kind,
// target id) — активное сопоставление является биекцией.
type CorrelationRecord struct {
	ID            int64            `json:"id"`
	IntegrationID int64            `json:"integration_id"`
	Kind          EntityKind       `json:"kind"`
	SourceID      string           `json:"source_id"`
	TargetID      string           `json:"target_id"`
	State         CorrelationState `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// SourceRecord — минимальное представление сущности source-платформы,
// достаточное для вычисления диффа по идентификатору
type SourceRecord interface {
	// RecordID возвращает идентификатор сущности на source-платформе
	RecordID() string
}

// MatchedRecord объединяет свежую сущность с найденной для нее записью сопоставления
type MatchedRecord struct {
	Entity      SourceRecord
	Correlation *CorrelationRecord
}

// ActionGroup — результат сверки каталога: три непересекающихся списка
// действий, необходимых для приведения target-платформы в соответствие
// с source-платформой
type ActionGroup struct {
	ToInsert []SourceRecord
	ToUpdate []MatchedRecord
	ToDelete []*CorrelationRecord
}

// ReconcileSummary — сводка выполненной сверки для ответа batch-эндпоинта
type ReconcileSummary struct {
	Kind     EntityKind `json:"kind"`
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Deleted  int        `json:"deleted"`
	Failed   int        `json:"failed"`
}
