package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// DispatchStep — этап конвейера обработки уведомления. Этапы проходятся
// строго по порядку, переход в failed возможен с любого этапа
type DispatchStep string

const (
	StepReceived     DispatchStep = "received"
	StepValidated    DispatchStep = "validated"
	StepRouted       DispatchStep = "routed"
	StepFetched      DispatchStep = "fetched"
	StepConverted    DispatchStep = "converted"
	StepApplied      DispatchStep = "applied"
	StepAcknowledged DispatchStep = "acknowledged"
)

// DispatchStatus — итоговый статус обработки уведомления
type DispatchStatus string

const (
	StatusAcknowledged DispatchStatus = "acknowledged"
	StatusFailed       DispatchStatus = "failed"
)

// DispatchResult — итог обработки уведомления. Step фиксирует этап,
// на котором обработка остановилась; Retryable говорит потребителю,
// имеет ли смысл повторная доставка того же уведомления
type DispatchResult struct {
	Status    DispatchStatus `json:"status"`
	Step      DispatchStep   `json:"step"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message,omitempty"`
	Retryable bool           `json:"retryable"`
}

// Dispatcher обрабатывает уведомления об изменениях каталога: проверяет,
// маршрутизирует по (области, действию), загружает свежее состояние
// сущности с source-платформы, конвертирует и применяет к target-платформе.
// Обработчики одной сущности взаимно исключаются распределенной блокировкой,
// поэтому конкурентные уведомления об одной сущности не гонятся за записью
type Dispatcher struct {
	integrations storage.IntegrationStorageInterface
	correlations *CorrelationService
	converter    *Converter
	source       SourceGateway
	target       TargetGateway
	locks        interfaces.CachePort
	logger       interfaces.LoggerPort

	lockTTL    time.Duration
	maxRetries int
	retryWait  time.Duration
}

// NewDispatcher создает новый диспетчер уведомлений
func NewDispatcher(
	integrations storage.IntegrationStorageInterface,
	correlations *CorrelationService,
	converter *Converter,
	source SourceGateway,
	target TargetGateway,
	locks interfaces.CachePort,
	logger interfaces.LoggerPort,
	lockTTL time.Duration,
	maxRetries int,
	retryWait time.Duration,
) *Dispatcher {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryWait <= 0 {
		retryWait = 100 * time.Millisecond
	}
	return &Dispatcher{
		integrations: integrations,
		correlations: correlations,
		converter:    converter,
		source:       source,
		target:       target,
		locks:        locks,
		logger:       logger,
		lockTTL:      lockTTL,
		maxRetries:   maxRetries,
		retryWait:    retryWait,
	}
}

// scopeKind переводит область уведомления в вид сущности.
// Области вне каталога не маршрутизируются
func scopeKind(scope models.NotificationScope) (models.EntityKind, bool) {
	switch scope {
	case models.ScopeProduct, models.ScopeProductPrice, models.ScopeProductStock:
		return models.KindProduct, true
	case models.ScopeVariant, models.ScopeVariantPrice, models.ScopeVariantStock:
		return models.KindSku, true
	}
	return "", false
}

// classify переводит ошибку конвейера в категорию результата и признак
// повторяемости. Ошибки данных и учетных данных повторами не лечатся,
// сетевые и внутренние сбои — кандидаты на повторную доставку
func classify(err error) (string, bool) {
	var validationErr *errs.ValidationError
	if errors.As(err, &validationErr) {
		return "validation", false
	}

	var authErr *errs.AuthenticationError
	if errors.As(err, &authErr) {
		return "authentication", false
	}

	var correlationErr *errs.CorrelationError
	if errors.As(err, &correlationErr) {
		return "correlation", false
	}

	var remoteErr *errs.RemoteError
	if errors.As(err, &remoteErr) {
		return string(remoteErr.Category), remoteErr.Retryable()
	}

	if errors.Is(err, errs.ErrNotFound) {
		return "not_found", false
	}
	if errors.Is(err, errs.ErrIntegrationInactive) {
		return "authentication", false
	}

	return "internal", true
}

// Dispatch обрабатывает одно уведомление от начала до конца.
// Обработка идемпотентна: повторная доставка уже примененного уведомления
// повторяет запись того же состояния и завершается успехом
func (d *Dispatcher) Dispatch(ctx context.Context, notification *models.ChangeNotification) *DispatchResult {
	step := StepReceived

	fail := func(err error) *DispatchResult {
		category, retryable := classify(err)
		d.logger.ErrorWithContext(ctx, "Обработка уведомления прервана",
			interfaces.LogField{Key: "seller_id", Value: notification.SellerID},
			interfaces.LogField{Key: "scope", Value: string(notification.Scope)},
			interfaces.LogField{Key: "scope_id", Value: notification.ScopeID},
			interfaces.LogField{Key: "step", Value: string(step)},
			interfaces.LogField{Key: "category", Value: category},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
		return &DispatchResult{
			Status:    StatusFailed,
			Step:      step,
			Category:  category,
			Message:   err.Error(),
			Retryable: retryable,
		}
	}

	if err := notification.Validate(); err != nil {
		return fail(err)
	}
	step = StepValidated

	integration, err := d.integrations.GetIntegration(ctx, notification.SellerID)
	if err != nil {
		return fail(err)
	}
	if integration == nil {
		return fail(fmt.Errorf("integration %d: %w", notification.SellerID, errs.ErrNotFound))
	}
	if !integration.Active {
		return fail(errs.ErrIntegrationInactive)
	}

	kind, routable := scopeKind(notification.Scope)
	step = StepRouted
	if !routable {
		// Заказы и покупатели каталог не меняют: уведомление
		// подтверждается без обработки
		d.logger.InfoWithContext(ctx, "Уведомление вне каталога подтверждено без обработки",
			interfaces.LogField{Key: "scope", Value: string(notification.Scope)},
			interfaces.LogField{Key: "scope_id", Value: notification.ScopeID},
		)
		return &DispatchResult{Status: StatusAcknowledged, Step: StepAcknowledged}
	}

	unlock, err := d.acquireLock(ctx, integration.ID, kind, notification.ScopeID)
	if err != nil {
		return fail(err)
	}
	defer unlock()

	switch kind {
	case models.KindProduct:
		err = d.dispatchProduct(ctx, integration, notification, &step)
	case models.KindSku:
		err = d.dispatchVariant(ctx, integration, notification, &step)
	}
	if err != nil {
		return fail(err)
	}

	step = StepAcknowledged
	return &DispatchResult{Status: StatusAcknowledged, Step: step}
}

// acquireLock берет распределенную блокировку сущности с ограниченным
// числом попыток. TTL блокировки страхует от падения обработчика
func (d *Dispatcher) acquireLock(ctx context.Context, integrationID int64, kind models.EntityKind, scopeID string) (func(), error) {
	key := fmt.Sprintf("sync:%d:%s:%s", integrationID, kind, scopeID)

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		acquired, err := d.locks.Lock(ctx, key, d.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire entity lock: %w", err)
		}
		if acquired {
			return func() {
				if err := d.locks.Unlock(context.WithoutCancel(ctx), key); err != nil {
					d.logger.WarnWithContext(ctx, "Не удалось освободить блокировку сущности",
						interfaces.LogField{Key: "key", Value: key},
						interfaces.LogField{Key: "error", Value: err.Error()},
					)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.retryWait):
		}
	}

	return nil, fmt.Errorf("entity %s is locked by another handler", key)
}

// dispatchProduct — конвейер товара. Insert и update сходятся к одной
// upsert-семантике: решает наличие сопоставления, а не действие
// в уведомлении, поэтому перестановка доставок безопасна
func (d *Dispatcher) dispatchProduct(ctx context.Context, integration *models.Integration, notification *models.ChangeNotification, step *DispatchStep) error {
	if notification.Action == models.ActionDelete {
		return d.deleteProduct(ctx, integration, notification.ScopeID, step)
	}

	product, err := d.source.FetchProduct(ctx, integration, notification.ScopeID)
	if err != nil {
		return err
	}
	*step = StepFetched

	return d.upsertProduct(ctx, integration, product, step)
}

func (d *Dispatcher) upsertProduct(ctx context.Context, integration *models.Integration, product *models.SourceProduct, step *DispatchStep) error {
	converted, err := d.converter.ToTargetProduct(ctx, integration, product)
	if err != nil {
		return err
	}
	*step = StepConverted

	existing, err := d.correlations.GetBySourceID(ctx, integration.ID, models.KindProduct, product.RecordID())
	if err != nil {
		return err
	}

	if existing != nil {
		if err := d.target.UpdateProduct(ctx, integration, existing.TargetID, converted); err != nil {
			return err
		}
		*step = StepApplied
		return d.saveCorrelation(ctx, integration.ID, models.KindProduct, product.RecordID(), existing.TargetID, models.CorrelationUpdated)
	}

	targetID, err := d.target.CreateProduct(ctx, integration, converted)
	if err != nil {
		return err
	}
	*step = StepApplied
	return d.saveCorrelation(ctx, integration.ID, models.KindProduct, product.RecordID(), targetID, models.CorrelationCreated)
}

// deleteProduct удаляет товар с target-платформы. Отсутствие сопоставления
// означает, что товар никогда не синхронизировался или уже удален —
// уведомление подтверждается без действий
func (d *Dispatcher) deleteProduct(ctx context.Context, integration *models.Integration, sourceID string, step *DispatchStep) error {
	existing, err := d.correlations.GetBySourceID(ctx, integration.ID, models.KindProduct, sourceID)
	if err != nil {
		return err
	}
	if existing == nil {
		*step = StepApplied
		return nil
	}

	if err := d.target.DeleteProduct(ctx, integration, existing.TargetID); err != nil && !isRemoteNotFound(err) {
		return err
	}
	*step = StepApplied

	return d.correlations.MarkDeleted(ctx, integration.ID, models.KindProduct, sourceID)
}

// dispatchVariant — конвейер варианта. Вариант живет внутри товара:
// если родительский товар еще не синхронизирован, вместо точечной операции
// над SKU синхронизируется товар целиком
func (d *Dispatcher) dispatchVariant(ctx context.Context, integration *models.Integration, notification *models.ChangeNotification, step *DispatchStep) error {
	if notification.Action == models.ActionDelete {
		return d.deleteVariant(ctx, integration, notification.ScopeID, step)
	}

	variant, err := d.source.FetchVariant(ctx, integration, notification.ScopeID)
	if err != nil {
		return err
	}
	*step = StepFetched

	productCorrelation, err := d.correlations.GetBySourceID(ctx, integration.ID, models.KindProduct, strconv.FormatInt(variant.ProductID, 10))
	if err != nil {
		return err
	}
	if productCorrelation == nil {
		product, err := d.source.FetchProduct(ctx, integration, strconv.FormatInt(variant.ProductID, 10))
		if err != nil {
			return err
		}
		return d.upsertProduct(ctx, integration, product, step)
	}

	sku := d.converter.ToTargetSku(variant)
	*step = StepConverted

	existing, err := d.correlations.GetBySourceID(ctx, integration.ID, models.KindSku, variant.RecordID())
	if err != nil {
		return err
	}

	if existing != nil {
		if err := d.target.UpdateSku(ctx, integration, existing.TargetID, &sku); err != nil {
			return err
		}
		*step = StepApplied
		return d.saveCorrelation(ctx, integration.ID, models.KindSku, variant.RecordID(), existing.TargetID, models.CorrelationUpdated)
	}

	targetID, err := d.target.CreateSku(ctx, integration, productCorrelation.TargetID, &sku)
	if err != nil {
		return err
	}
	*step = StepApplied
	return d.saveCorrelation(ctx, integration.ID, models.KindSku, variant.RecordID(), targetID, models.CorrelationCreated)
}

func (d *Dispatcher) deleteVariant(ctx context.Context, integration *models.Integration, sourceID string, step *DispatchStep) error {
	existing, err := d.correlations.GetBySourceID(ctx, integration.ID, models.KindSku, sourceID)
	if err != nil {
		return err
	}
	if existing == nil {
		*step = StepApplied
		return nil
	}

	if err := d.target.DeleteSku(ctx, integration, existing.TargetID); err != nil && !isRemoteNotFound(err) {
		return err
	}
	*step = StepApplied

	return d.correlations.MarkDeleted(ctx, integration.ID, models.KindSku, sourceID)
}

func (d *Dispatcher) saveCorrelation(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID, targetID string, state models.CorrelationState) error {
	return d.correlations.Upsert(ctx, &models.CorrelationRecord{
		IntegrationID: integrationID,
		Kind:          kind,
		SourceID:      sourceID,
		TargetID:      targetID,
		State:         state,
	})
}

// isRemoteNotFound распознает ответ 404 удаленной платформы
func isRemoteNotFound(err error) bool {
	var remoteErr *errs.RemoteError
	return errors.As(err, &remoteErr) && remoteErr.Category == errs.RemoteNotFound
}
