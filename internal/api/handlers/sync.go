package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/internal/domain/services"
	"github.com/athebyme/catalog-sync/pkg/errs"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// SyncHandler обработчик запросов сервиса синхронизации
type SyncHandler struct {
	dispatcher *services.Dispatcher
	reconciler *services.Reconciler
	logger     interfaces.LoggerPort
}

// NewSyncHandler создает новый обработчик синхронизации
func NewSyncHandler(dispatcher *services.Dispatcher, reconciler *services.Reconciler, logger interfaces.LoggerPort) *SyncHandler {
	return &SyncHandler{
		dispatcher: dispatcher,
		reconciler: reconciler,
		logger:     logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// HandleNotification принимает уведомление об изменении каталога
// и обрабатывает его синхронно. Ошибки данных возвращаются как 4xx,
// чтобы source-платформа не повторяла заведомо безнадежную доставку
func (h *SyncHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	var notification models.ChangeNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело уведомления",
		})
		return
	}

	result := h.dispatcher.Dispatch(r.Context(), &notification)
	if result.Status == services.StatusFailed {
		// Повторяемые сбои отдаются как pending_retry: повторную доставку
		// выполняет отправитель, конвейер сам попытки не копит
		if result.Retryable {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorResponse{
				Error:   "pending_retry",
				Code:    http.StatusServiceUnavailable,
				Message: result.Message,
			})
			return
		}

		status := failureStatus(result)
		render.Status(r, status)
		render.JSON(w, r, errorResponse{
			Error:   result.Category,
			Code:    status,
			Message: result.Message,
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    result,
	})
}

// failureStatus переводит категорию ошибки конвейера в HTTP статус
func failureStatus(result *services.DispatchResult) int {
	switch result.Category {
	case "validation", "bad_request":
		return http.StatusBadRequest
	case "authentication", "unauthorized":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	case "correlation", "unprocessable_entity":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleReconcile запускает сверку указанного вида сущностей для интеграции
func (h *SyncHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	integrationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || integrationID <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID интеграции должен быть положительным числом",
		})
		return
	}

	kind := models.EntityKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Неизвестный вид сущности",
		})
		return
	}

	summary, err := h.reconciler.Reconcile(r.Context(), integrationID, kind)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка сверки",
			interfaces.LogField{Key: "integration_id", Value: integrationID},
			interfaces.LogField{Key: "kind", Value: string(kind)},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)

		status := http.StatusInternalServerError
		message := "Ошибка выполнения сверки"

		var validationErr *errs.ValidationError
		switch {
		case errors.Is(err, errs.ErrNotFound):
			status = http.StatusNotFound
			message = "Интеграция не найдена"
		case errors.Is(err, errs.ErrIntegrationInactive):
			status = http.StatusConflict
			message = "Интеграция отключена"
		case errors.As(err, &validationErr):
			status = http.StatusBadRequest
			message = err.Error()
		}

		render.Status(r, status)
		render.JSON(w, r, errorResponse{
			Error:   http.StatusText(status),
			Code:    status,
			Message: message,
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    summary,
	})
}
