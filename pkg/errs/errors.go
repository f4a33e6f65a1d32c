package errs

import (
	"errors"
	"fmt"
)

// Сентинельные ошибки, общие для всех слоев сервиса
var (
	// ErrNotFound возвращается хранилищем корреляций, когда для запрошенного
	// идентификатора нет активной записи. Это обычный исход, а не сбой:
	// вызывающая сторона трактует его как "требуется вставка".
	ErrNotFound = errors.New("correlation not found")

	// ErrCacheMiss возвращается кэшем, когда значение по ключу отсутствует
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrIntegrationInactive возвращается, когда интеграция отключена
	// и не может использоваться для синхронизации
	ErrIntegrationInactive = errors.New("integration is not active")
)

// RemoteCategory классифицирует ответ удаленной платформы по HTTP статусу
type RemoteCategory string

const (
	RemoteBadRequest          RemoteCategory = "bad_request"
	RemoteUnauthorized        RemoteCategory = "unauthorized"
	RemoteNotFound            RemoteCategory = "not_found"
	RemoteUnprocessableEntity RemoteCategory = "unprocessable_entity"
	RemoteUnrecognized        RemoteCategory = "unrecognized"
)

// RemoteError описывает классифицированную ошибку вызова удаленной платформы
type RemoteError struct {
	Category RemoteCategory
	Status   int
	URL      string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote call failed: %s (status %d): %s", e.Category, e.Status, e.Message)
}

// Retryable сообщает, имеет ли смысл повторять вызов с теми же данными.
// BadRequest/NotFound/UnprocessableEntity указывают на проблему данных,
// Unauthorized обрабатывается принудительным обновлением токена отдельно.
func (e *RemoteError) Retryable() bool {
	return e.Category == RemoteUnrecognized
}

// ClassifyStatus переводит HTTP статус в категорию удаленной ошибки
func ClassifyStatus(status int) RemoteCategory {
	switch status {
	case 400:
		return RemoteBadRequest
	case 401:
		return RemoteUnauthorized
	case 404:
		return RemoteNotFound
	case 422:
		return RemoteUnprocessableEntity
	default:
		return RemoteUnrecognized
	}
}

// AuthenticationError — терминальная ошибка аутентификации интеграции.
// После нее интеграция непригодна для синхронизации, пока оператор
// не исправит учетные данные; автоматических повторов быть не должно.
type AuthenticationError struct {
	IntegrationID int64
	Platform      string
	Err           error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for integration %d (%s): %v", e.IntegrationID, e.Platform, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// CorrelationError — неразрешимая связка идентификаторов при конвертации.
// Терминальна для конкретной сущности, но не для интеграции в целом.
type CorrelationError struct {
	Kind     string
	SourceID string
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("no active correlation for %s %s", e.Kind, e.SourceID)
}

// ValidationError — структурно некорректное входящее уведомление,
// отклоняется до любых побочных эффектов
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid notification: field %q %s", e.Field, e.Reason)
}

// PartialFetchError — один из параллельных запросов вариантов завершился
// ошибкой. Вся операция над агрегатом отменяется целиком: частично
// заполненный список SKU хуже, чем пропущенный цикл синхронизации.
type PartialFetchError struct {
	ProductID string
	VariantID string
	Err       error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("variant %s of product %s fetch failed: %v", e.VariantID, e.ProductID, e.Err)
}

func (e *PartialFetchError) Unwrap() error { return e.Err }
