package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
)

// TokenProvider выдает действующий токен доступа для вызовов удаленной
// платформы и позволяет принудительно сбросить кэшированный токен
type TokenProvider interface {
	// AccessToken возвращает действующий токен доступа указанной платформы
	AccessToken(ctx context.Context, integration *models.Integration, platform models.Platform) (string, error)

	// Invalidate сбрасывает кэшированный токен, вынуждая следующий вызов
	// AccessToken выполнить обновление
	Invalidate(integration *models.Integration, platform models.Platform)
}

// Client — общая HTTP-обвязка вызовов удаленных платформ
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient создает HTTP-обвязку с ограниченным таймаутом.
// Таймаут трактуется так же, как сетевая ошибка
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// remoteErrorBody — тело ошибки, которое возвращают обе платформы
type remoteErrorBody struct {
	Message string `json:"message"`
}

// call выполняет HTTP-вызов и декодирует JSON-ответ в out.
// Статусы >= 400 классифицируются в errs.RemoteError
func (c *Client) call(ctx context.Context, method, url, token string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote call %s %s failed: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errBody remoteErrorBody
		message := string(respBody)
		if json.Unmarshal(respBody, &errBody) == nil && errBody.Message != "" {
			message = errBody.Message
		}
		return &errs.RemoteError{
			Category: errs.ClassifyStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			URL:      url,
			Message:  message,
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// authorized выполняет вызов с токеном доступа. На Unauthorized токен
// сбрасывается и вызов повторяется ровно один раз; повторный Unauthorized
// эскалируется в AuthenticationError
func authorized(ctx context.Context, tokens TokenProvider, integration *models.Integration, platform models.Platform, fn func(token string) error) error {
	token, err := tokens.AccessToken(ctx, integration, platform)
	if err != nil {
		return err
	}

	err = fn(token)
	var remoteErr *errs.RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Category != errs.RemoteUnauthorized {
		return err
	}

	tokens.Invalidate(integration, platform)
	token, err = tokens.AccessToken(ctx, integration, platform)
	if err != nil {
		return err
	}

	err = fn(token)
	if errors.As(err, &remoteErr) && remoteErr.Category == errs.RemoteUnauthorized {
		return &errs.AuthenticationError{
			IntegrationID: integration.ID,
			Platform:      string(platform),
			Err:           err,
		}
	}
	return err
}
