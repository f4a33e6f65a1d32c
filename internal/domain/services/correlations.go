package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
	"github.com/athebyme/catalog-sync/pkg/tx"
)

// correlationCacheTTL — срок жизни кэшированного сопоставления в Redis.
// Кэшируются только горячие справочные виды (бренды и категории),
// перевод которых нужен при конвертации каждого товара
const correlationCacheTTL = 15 * time.Minute

// CorrelationService поддерживает двустороннее сопоставление идентификаторов
// между платформами. Запись на каждую пару (вид, source_id) ровно одна,
// удаление выполняется мягко сменой состояния
type CorrelationService struct {
	storage storage.CorrelationStorageInterface
	cache   interfaces.CachePort
	txm     tx.Manager
	logger  interfaces.LoggerPort
}

// NewCorrelationService создает новый сервис сопоставлений
func NewCorrelationService(
	correlationStorage storage.CorrelationStorageInterface,
	cache interfaces.CachePort,
	txm tx.Manager,
	logger interfaces.LoggerPort,
) *CorrelationService {
	return &CorrelationService{
		storage: correlationStorage,
		cache:   cache,
		txm:     txm,
		logger:  logger,
	}
}

func cacheableKind(kind models.EntityKind) bool {
	return kind == models.KindBrand || kind == models.KindCategory
}

func correlationCacheKey(kind models.EntityKind, sourceID string) string {
	return fmt.Sprintf("correlation:%s:%s", kind, sourceID)
}

func tenantID(integrationID int64) string {
	return strconv.FormatInt(integrationID, 10)
}

// ResolveTargetID переводит source-идентификатор в target-идентификатор.
// Отсутствие активной записи возвращается как errs.ErrNotFound
func (s *CorrelationService) ResolveTargetID(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) (string, error) {
	if cacheableKind(kind) {
		key := correlationCacheKey(kind, sourceID)
		if cached, err := s.cache.GetWithTenant(ctx, key, tenantID(integrationID)); err == nil {
			var record models.CorrelationRecord
			if err := json.Unmarshal(cached, &record); err == nil {
				return record.TargetID, nil
			}
		} else if !errors.Is(err, errs.ErrCacheMiss) {
			s.logger.WarnWithContext(ctx, "Ошибка чтения сопоставления из кэша",
				interfaces.LogField{Key: "key", Value: key},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
	}

	record, err := s.storage.GetCorrelationBySourceID(ctx, integrationID, kind, sourceID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", fmt.Errorf("correlation %s/%s: %w", kind, sourceID, errs.ErrNotFound)
	}

	s.cacheRecord(ctx, record)
	return record.TargetID, nil
}

// ResolveSourceID переводит target-идентификатор в source-идентификатор
func (s *CorrelationService) ResolveSourceID(ctx context.Context, integrationID int64, kind models.EntityKind, targetID string) (string, error) {
	record, err := s.storage.GetCorrelationByTargetID(ctx, integrationID, kind, targetID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", fmt.Errorf("correlation %s/%s: %w", kind, targetID, errs.ErrNotFound)
	}
	return record.SourceID, nil
}

// GetBySourceID возвращает активную запись сопоставления либо nil
func (s *CorrelationService) GetBySourceID(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) (*models.CorrelationRecord, error) {
	return s.storage.GetCorrelationBySourceID(ctx, integrationID, kind, sourceID)
}

// Upsert идемпотентно сохраняет сопоставление в транзакции.
// Повторный вызов с тем же source_id обновляет существующую запись,
// а не создает дубликат
func (s *CorrelationService) Upsert(ctx context.Context, record *models.CorrelationRecord) error {
	if !record.Kind.IsValid() {
		return &errs.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", record.Kind)}
	}
	if record.SourceID == "" || record.TargetID == "" {
		return &errs.ValidationError{Field: "correlation", Reason: "source and target identifiers must be set"}
	}

	err := s.txm.Do(ctx, func(txCtx context.Context) error {
		return s.storage.UpsertCorrelation(txCtx, record)
	})
	if err != nil {
		return err
	}

	s.cacheRecord(ctx, record)
	return nil
}

// MarkDeleted мягко удаляет сопоставление по source-идентификатору.
// Запись остается в хранилище для диагностики, но исключается из всех
// активных выборок и повторного использования
func (s *CorrelationService) MarkDeleted(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) error {
	err := s.txm.Do(ctx, func(txCtx context.Context) error {
		return s.storage.MarkCorrelationDeletedBySourceID(txCtx, integrationID, kind, sourceID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, integrationID, kind, sourceID)
	return nil
}

// MarkDeletedByTargetID мягко удаляет сопоставление по target-идентификатору
func (s *CorrelationService) MarkDeletedByTargetID(ctx context.Context, integrationID int64, kind models.EntityKind, targetID string) error {
	record, err := s.storage.GetCorrelationByTargetID(ctx, integrationID, kind, targetID)
	if err != nil {
		return err
	}

	txErr := s.txm.Do(ctx, func(txCtx context.Context) error {
		return s.storage.MarkCorrelationDeletedByTargetID(txCtx, integrationID, kind, targetID)
	})
	if txErr != nil {
		return txErr
	}

	if record != nil {
		s.invalidate(ctx, integrationID, kind, record.SourceID)
	}
	return nil
}

// ListActive возвращает все активные сопоставления вида в порядке
// возрастания числового ID записи
func (s *CorrelationService) ListActive(ctx context.Context, integrationID int64, kind models.EntityKind) ([]*models.CorrelationRecord, error) {
	return s.storage.ListActiveCorrelations(ctx, integrationID, kind)
}

func (s *CorrelationService) cacheRecord(ctx context.Context, record *models.CorrelationRecord) {
	if !cacheableKind(record.Kind) || record.State == models.CorrelationDeleted {
		return
	}

	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	key := correlationCacheKey(record.Kind, record.SourceID)
	if err := s.cache.SetWithTenant(ctx, key, data, tenantID(record.IntegrationID), correlationCacheTTL); err != nil {
		s.logger.WarnWithContext(ctx, "Не удалось закэшировать сопоставление",
			interfaces.LogField{Key: "key", Value: key},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}

func (s *CorrelationService) invalidate(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) {
	if !cacheableKind(kind) {
		return
	}

	key := correlationCacheKey(kind, sourceID)
	if err := s.cache.DeleteWithTenant(ctx, key, tenantID(integrationID)); err != nil {
		s.logger.WarnWithContext(ctx, "Не удалось сбросить кэш сопоставления",
			interfaces.LogField{Key: "key", Value: key},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}
}
