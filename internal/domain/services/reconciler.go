package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// Reconciler выполняет периодическую сверку справочников каталога:
// выгружает полный срез сущностей source-платформы, сравнивает его
// с сохраненными сопоставлениями и приводит target-платформу
// в соответствие. Событийная синхронизация покрывает штатный поток
// уведомлений, сверка закрывает пропущенные и потерянные изменения
type Reconciler struct {
	integrations storage.IntegrationStorageInterface
	correlations *CorrelationService
	converter    *Converter
	source       SourceGateway
	target       TargetGateway
	logger       interfaces.LoggerPort
}

// NewReconciler создает новый сервис сверки
func NewReconciler(
	integrations storage.IntegrationStorageInterface,
	correlations *CorrelationService,
	converter *Converter,
	source SourceGateway,
	target TargetGateway,
	logger interfaces.LoggerPort,
) *Reconciler {
	return &Reconciler{
		integrations: integrations,
		correlations: correlations,
		converter:    converter,
		source:       source,
		target:       target,
		logger:       logger,
	}
}

// numericID переводит строковый идентификатор в число для сортировки.
// Нечисловые идентификаторы уходят в конец списка
func numericID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return int64(^uint64(0) >> 1)
	}
	return n
}

// ComputeActionGroups сравнивает свежий срез source-платформы с сохраненными
// сопоставлениями и разбивает расхождения на три непересекающихся списка
// действий. Каждый список отсортирован по возрастанию числового
// идентификатора, результат детерминирован для одинаковых входов.
// Пустой список сопоставлений означает первый прогон: весь срез — вставки
func ComputeActionGroups(fresh []models.SourceRecord, stored []*models.CorrelationRecord) *models.ActionGroup {
	group := &models.ActionGroup{}

	if len(stored) == 0 {
		group.ToInsert = append(group.ToInsert, fresh...)
		sortRecords(group.ToInsert)
		return group
	}

	storedByID := make(map[string]*models.CorrelationRecord, len(stored))
	for _, record := range stored {
		storedByID[record.SourceID] = record
	}

	seen := make(map[string]struct{}, len(fresh))
	for _, entity := range fresh {
		id := entity.RecordID()
		seen[id] = struct{}{}
		if record, ok := storedByID[id]; ok {
			group.ToUpdate = append(group.ToUpdate, models.MatchedRecord{Entity: entity, Correlation: record})
		} else {
			group.ToInsert = append(group.ToInsert, entity)
		}
	}

	for _, record := range stored {
		if _, ok := seen[record.SourceID]; !ok {
			group.ToDelete = append(group.ToDelete, record)
		}
	}

	sortRecords(group.ToInsert)
	sort.Slice(group.ToUpdate, func(i, j int) bool {
		return numericID(group.ToUpdate[i].Entity.RecordID()) < numericID(group.ToUpdate[j].Entity.RecordID())
	})
	sort.Slice(group.ToDelete, func(i, j int) bool {
		return numericID(group.ToDelete[i].SourceID) < numericID(group.ToDelete[j].SourceID)
	})

	return group
}

func sortRecords(records []models.SourceRecord) {
	sort.Slice(records, func(i, j int) bool {
		return numericID(records[i].RecordID()) < numericID(records[j].RecordID())
	})
}

// Reconcile выполняет сверку указанного вида сущностей для интеграции.
// Ошибки отдельных сущностей не прерывают прогон, они считаются в Failed;
// прогон падает целиком только на ошибках загрузки среза или интеграции
func (r *Reconciler) Reconcile(ctx context.Context, integrationID int64, kind models.EntityKind) (*models.ReconcileSummary, error) {
	integration, err := r.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, fmt.Errorf("integration %d: %w", integrationID, errs.ErrNotFound)
	}
	if !integration.Active {
		return nil, errs.ErrIntegrationInactive
	}

	switch kind {
	case models.KindBrand:
		return r.reconcileBrands(ctx, integration)
	case models.KindCategory:
		return r.reconcileCategories(ctx, integration)
	case models.KindProduct:
		return r.reconcileProducts(ctx, integration)
	default:
		return nil, &errs.ValidationError{Field: "kind", Reason: fmt.Sprintf("reconciliation is not supported for %q", kind)}
	}
}

func (r *Reconciler) reconcileBrands(ctx context.Context, integration *models.Integration) (*models.ReconcileSummary, error) {
	brands, err := r.source.FetchBrands(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch brands: %w", err)
	}

	fresh := make([]models.SourceRecord, 0, len(brands))
	for _, brand := range brands {
		fresh = append(fresh, brand)
	}

	stored, err := r.correlations.ListActive(ctx, integration.ID, models.KindBrand)
	if err != nil {
		return nil, err
	}

	group := ComputeActionGroups(fresh, stored)
	summary := &models.ReconcileSummary{Kind: models.KindBrand}

	for _, entity := range group.ToInsert {
		brand := entity.(*models.SourceBrand)
		targetID, err := r.target.CreateBrand(ctx, integration, r.converter.ToTargetBrand(brand))
		if err != nil {
			r.recordFailure(ctx, summary, models.KindBrand, brand.RecordID(), err)
			continue
		}
		if err := r.saveCorrelation(ctx, integration.ID, models.KindBrand, brand.RecordID(), targetID, models.CorrelationCreated); err != nil {
			r.recordFailure(ctx, summary, models.KindBrand, brand.RecordID(), err)
			continue
		}
		summary.Inserted++
	}

	for _, matched := range group.ToUpdate {
		brand := matched.Entity.(*models.SourceBrand)
		if err := r.target.UpdateBrand(ctx, integration, matched.Correlation.TargetID, r.converter.ToTargetBrand(brand)); err != nil {
			r.recordFailure(ctx, summary, models.KindBrand, brand.RecordID(), err)
			continue
		}
		if err := r.saveCorrelation(ctx, integration.ID, models.KindBrand, brand.RecordID(), matched.Correlation.TargetID, models.CorrelationUpdated); err != nil {
			r.recordFailure(ctx, summary, models.KindBrand, brand.RecordID(), err)
			continue
		}
		summary.Updated++
	}

	for _, record := range group.ToDelete {
		if err := r.deleteOnTarget(ctx, integration, models.KindBrand, record.TargetID); err != nil {
			r.recordFailure(ctx, summary, models.KindBrand, record.SourceID, err)
			continue
		}
		if err := r.correlations.MarkDeleted(ctx, integration.ID, models.KindBrand, record.SourceID); err != nil {
			r.recordFailure(ctx, summary, models.KindBrand, record.SourceID, err)
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

func (r *Reconciler) reconcileCategories(ctx context.Context, integration *models.Integration) (*models.ReconcileSummary, error) {
	categories, err := r.source.FetchCategories(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}

	fresh := make([]models.SourceRecord, 0, len(categories))
	for _, category := range categories {
		fresh = append(fresh, category)
	}

	stored, err := r.correlations.ListActive(ctx, integration.ID, models.KindCategory)
	if err != nil {
		return nil, err
	}

	group := ComputeActionGroups(fresh, stored)
	summary := &models.ReconcileSummary{Kind: models.KindCategory}

	for _, entity := range group.ToInsert {
		category := entity.(*models.SourceCategory)
		converted, err := r.converter.ToTargetCategory(ctx, integration, category)
		if err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, category.RecordID(), err)
			continue
		}
		targetID, err := r.target.CreateCategory(ctx, integration, converted)
		if err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, category.RecordID(), err)
			continue
		}
		if err := r.saveCorrelation(ctx, integration.ID, models.KindCategory, category.RecordID(), targetID, models.CorrelationCreated); err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, category.RecordID(), err)
			continue
		}
		summary.Inserted++
	}

	for _, matched := range group.ToUpdate {
		category := matched.Entity.(*models.SourceCategory)
		converted, err := r.converter.ToTargetCategory(ctx, integration, category)
		if err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, category.RecordID(), err)
			continue
		}
		if err := r.target.UpdateCategory(ctx, integration, matched.Correlation.TargetID, converted); err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, category.RecordID(), err)
			continue
		}
		if err := r.saveCorrelation(ctx, integration.ID, models.KindCategory, category.RecordID(), matched.Correlation.TargetID, models.CorrelationUpdated); err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, category.RecordID(), err)
			continue
		}
		summary.Updated++
	}

	for _, record := range group.ToDelete {
		if err := r.deleteOnTarget(ctx, integration, models.KindCategory, record.TargetID); err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, record.SourceID, err)
			continue
		}
		if err := r.correlations.MarkDeleted(ctx, integration.ID, models.KindCategory, record.SourceID); err != nil {
			r.recordFailure(ctx, summary, models.KindCategory, record.SourceID, err)
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

// reconcileProducts восстанавливает консистентность товаров: полный срез
// товаров source-платформа не отдает, поэтому сверка проходит по сохраненным
// сопоставлениям и убирает с target-платформы товары, исчезнувшие из source
func (r *Reconciler) reconcileProducts(ctx context.Context, integration *models.Integration) (*models.ReconcileSummary, error) {
	stored, err := r.correlations.ListActive(ctx, integration.ID, models.KindProduct)
	if err != nil {
		return nil, err
	}

	summary := &models.ReconcileSummary{Kind: models.KindProduct}

	for _, record := range stored {
		_, err := r.source.FetchProduct(ctx, integration, record.SourceID)
		if err == nil {
			continue
		}

		if !isRemoteNotFound(err) {
			r.recordFailure(ctx, summary, models.KindProduct, record.SourceID, err)
			continue
		}

		if err := r.deleteOnTarget(ctx, integration, models.KindProduct, record.TargetID); err != nil {
			r.recordFailure(ctx, summary, models.KindProduct, record.SourceID, err)
			continue
		}
		if err := r.correlations.MarkDeleted(ctx, integration.ID, models.KindProduct, record.SourceID); err != nil {
			r.recordFailure(ctx, summary, models.KindProduct, record.SourceID, err)
			continue
		}
		summary.Deleted++
	}

	return summary, nil
}

// deleteOnTarget удаляет сущность на target-платформе. Ответ 404 считается
// успехом: сущность уже отсутствует, цель удаления достигнута
func (r *Reconciler) deleteOnTarget(ctx context.Context, integration *models.Integration, kind models.EntityKind, targetID string) error {
	var err error
	switch kind {
	case models.KindBrand:
		err = r.target.DeleteBrand(ctx, integration, targetID)
	case models.KindCategory:
		err = r.target.DeleteCategory(ctx, integration, targetID)
	case models.KindProduct:
		err = r.target.DeleteProduct(ctx, integration, targetID)
	case models.KindSku:
		err = r.target.DeleteSku(ctx, integration, targetID)
	}
	if err != nil && !isRemoteNotFound(err) {
		return err
	}
	return nil
}

// saveCorrelation записывает сопоставление после успешной операции
// на target-платформе. Порядок строгий: сначала удаленная операция,
// затем запись — сопоставление без сущности на target хуже, чем
// сущность без сопоставления, которую доберет следующая сверка
func (r *Reconciler) saveCorrelation(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID, targetID string, state models.CorrelationState) error {
	return r.correlations.Upsert(ctx, &models.CorrelationRecord{
		IntegrationID: integrationID,
		Kind:          kind,
		SourceID:      sourceID,
		TargetID:      targetID,
		State:         state,
	})
}

func (r *Reconciler) recordFailure(ctx context.Context, summary *models.ReconcileSummary, kind models.EntityKind, sourceID string, err error) {
	summary.Failed++
	r.logger.ErrorWithContext(ctx, "Ошибка сверки сущности",
		interfaces.LogField{Key: "kind", Value: string(kind)},
		interfaces.LogField{Key: "source_id", Value: sourceID},
		interfaces.LogField{Key: "error", Value: err.Error()},
	)
}
