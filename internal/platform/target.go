package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/athebyme/catalog-sync/internal/domain/models"
)

// TargetClient — клиент target-платформы каталога.
// Все пути запросов включают путь магазина интеграции
type TargetClient struct {
	client *Client
	tokens TokenProvider
}

// NewTargetClient создает клиента target-платформы
func NewTargetClient(baseURL string, timeout time.Duration, tokens TokenProvider) *TargetClient {
	return &TargetClient{
		client: NewClient(baseURL, timeout),
		tokens: tokens,
	}
}

// createdResponse — ответ target-платформы на создание сущности
type createdResponse struct {
	ID string `json:"id"`
}

func (t *TargetClient) storeURL(integration *models.Integration, path string) string {
	return fmt.Sprintf("%s/%s%s", t.client.baseURL, integration.TargetStorePath, path)
}

// CreateProduct создает товар и возвращает его идентификатор на target-платформе
func (t *TargetClient) CreateProduct(ctx context.Context, integration *models.Integration, product *models.TargetProduct) (string, error) {
	var resp createdResponse
	err := authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPost, t.storeURL(integration, "/products"), token, product, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateProduct обновляет товар по его target-идентификатору
func (t *TargetClient) UpdateProduct(ctx context.Context, integration *models.Integration, targetID string, product *models.TargetProduct) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPut, t.storeURL(integration, "/products/"+targetID), token, product, nil)
	})
}

// DeleteProduct удаляет товар по его target-идентификатору
func (t *TargetClient) DeleteProduct(ctx context.Context, integration *models.Integration, targetID string) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodDelete, t.storeURL(integration, "/products/"+targetID), token, nil, nil)
	})
}

// CreateSku создает SKU у товара и возвращает его идентификатор
func (t *TargetClient) CreateSku(ctx context.Context, integration *models.Integration, productTargetID string, sku *models.TargetSku) (string, error) {
	var resp createdResponse
	err := authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		url := t.storeURL(integration, "/products/"+productTargetID+"/skus")
		return t.client.call(ctx, http.MethodPost, url, token, sku, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateSku обновляет SKU по его target-идентификатору
func (t *TargetClient) UpdateSku(ctx context.Context, integration *models.Integration, skuTargetID string, sku *models.TargetSku) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPut, t.storeURL(integration, "/skus/"+skuTargetID), token, sku, nil)
	})
}

// DeleteSku удаляет SKU по его target-идентификатору
func (t *TargetClient) DeleteSku(ctx context.Context, integration *models.Integration, skuTargetID string) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodDelete, t.storeURL(integration, "/skus/"+skuTargetID), token, nil, nil)
	})
}

// CreateBrand создает бренд и возвращает его идентификатор
func (t *TargetClient) CreateBrand(ctx context.Context, integration *models.Integration, brand *models.TargetBrand) (string, error) {
	var resp createdResponse
	err := authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPost, t.storeURL(integration, "/brands"), token, brand, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateBrand обновляет бренд по его target-идентификатору
func (t *TargetClient) UpdateBrand(ctx context.Context, integration *models.Integration, targetID string, brand *models.TargetBrand) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPut, t.storeURL(integration, "/brands/"+targetID), token, brand, nil)
	})
}

// DeleteBrand удаляет бренд по его target-идентификатору
func (t *TargetClient) DeleteBrand(ctx context.Context, integration *models.Integration, targetID string) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodDelete, t.storeURL(integration, "/brands/"+targetID), token, nil, nil)
	})
}

// CreateCategory создает категорию и возвращает ее идентификатор
func (t *TargetClient) CreateCategory(ctx context.Context, integration *models.Integration, category *models.TargetCategory) (string, error) {
	var resp createdResponse
	err := authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPost, t.storeURL(integration, "/categories"), token, category, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateCategory обновляет категорию по ее target-идентификатору
func (t *TargetClient) UpdateCategory(ctx context.Context, integration *models.Integration, targetID string, category *models.TargetCategory) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodPut, t.storeURL(integration, "/categories/"+targetID), token, category, nil)
	})
}

// DeleteCategory удаляет категорию по ее target-идентификатору
func (t *TargetClient) DeleteCategory(ctx context.Context, integration *models.Integration, targetID string) error {
	return authorized(ctx, t.tokens, integration, models.PlatformTarget, func(token string) error {
		return t.client.call(ctx, http.MethodDelete, t.storeURL(integration, "/categories/"+targetID), token, nil, nil)
	})
}

// TargetAuth выполняет OAuth-обмены с target-платформой.
// Access-токен короткоживущий, refresh-токен живет дольше, но тоже истекает
type TargetAuth struct {
	conf *oauth2.Config
}

// NewTargetAuth создает клиента аутентификации target-платформы
func NewTargetAuth(tokenURL, deviceAuthURL, clientID string) *TargetAuth {
	return &TargetAuth{
		conf: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:      tokenURL,
				DeviceAuthURL: deviceAuthURL,
			},
		},
	}
}

// refreshExpiry извлекает срок действия refresh-токена из ответа токен-эндпоинта
func refreshExpiry(tok *oauth2.Token) time.Time {
	if v, ok := tok.Extra("refresh_expires_in").(float64); ok && v > 0 {
		return time.Now().UTC().Add(time.Duration(v) * time.Second)
	}
	// Платформа не вернула срок — считаем месяц, как документировано у нее
	return time.Now().UTC().Add(30 * 24 * time.Hour)
}

// Refresh обменивает refresh-токен на новую пару токенов
func (a *TargetAuth) Refresh(ctx context.Context, integration *models.Integration) (string, string, time.Time, time.Time, error) {
	seed := &oauth2.Token{RefreshToken: integration.TargetRefreshToken}
	tok, err := a.conf.TokenSource(ctx, seed).Token()
	if err != nil {
		return "", "", time.Time{}, time.Time{}, fmt.Errorf("target token refresh failed: %w", err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = integration.TargetRefreshToken
	}

	return tok.AccessToken, refreshToken, tok.Expiry.UTC(), refreshExpiry(tok), nil
}

// DeviceLogin выполняет полный вход по device/code flow, когда refresh-токен
// истек или отозван. Требует подтверждения на стороне магазина
func (a *TargetAuth) DeviceLogin(ctx context.Context, integration *models.Integration) (string, string, time.Time, time.Time, error) {
	deviceResp, err := a.conf.DeviceAuth(ctx)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, fmt.Errorf("target device auth failed: %w", err)
	}

	tok, err := a.conf.DeviceAccessToken(ctx, deviceResp)
	if err != nil {
		return "", "", time.Time{}, time.Time{}, fmt.Errorf("target device token exchange failed: %w", err)
	}

	return tok.AccessToken, tok.RefreshToken, tok.Expiry.UTC(), refreshExpiry(tok), nil
}
