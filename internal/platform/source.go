package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
)

// SourceClient — клиент source-платформы каталога
type SourceClient struct {
	client *Client
	tokens TokenProvider
}

// NewSourceClient создает клиента source-платформы
func NewSourceClient(baseURL string, timeout time.Duration, tokens TokenProvider) *SourceClient {
	return &SourceClient{
		client: NewClient(baseURL, timeout),
		tokens: tokens,
	}
}

// FetchProduct получает полный товар по идентификатору
func (s *SourceClient) FetchProduct(ctx context.Context, integration *models.Integration, productID string) (*models.SourceProduct, error) {
	var product models.SourceProduct
	err := authorized(ctx, s.tokens, integration, models.PlatformSource, func(token string) error {
		url := fmt.Sprintf("%s/products/%s", s.client.baseURL, productID)
		return s.client.call(ctx, http.MethodGet, url, token, nil, &product)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// FetchVariant получает полный вариант (SKU) по идентификатору
func (s *SourceClient) FetchVariant(ctx context.Context, integration *models.Integration, variantID string) (*models.SourceVariant, error) {
	var variant models.SourceVariant
	err := authorized(ctx, s.tokens, integration, models.PlatformSource, func(token string) error {
		url := fmt.Sprintf("%s/variants/%s", s.client.baseURL, variantID)
		return s.client.call(ctx, http.MethodGet, url, token, nil, &variant)
	})
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// FetchBrands получает полный снимок брендов каталога
func (s *SourceClient) FetchBrands(ctx context.Context, integration *models.Integration) ([]*models.SourceBrand, error) {
	var response struct {
		Brands []*models.SourceBrand `json:"brands"`
	}
	err := authorized(ctx, s.tokens, integration, models.PlatformSource, func(token string) error {
		url := s.client.baseURL + "/brands"
		return s.client.call(ctx, http.MethodGet, url, token, nil, &response)
	})
	if err != nil {
		return nil, err
	}
	return response.Brands, nil
}

// FetchCategories получает полный снимок категорий каталога
func (s *SourceClient) FetchCategories(ctx context.Context, integration *models.Integration) ([]*models.SourceCategory, error) {
	var response struct {
		Categories []*models.SourceCategory `json:"categories"`
	}
	err := authorized(ctx, s.tokens, integration, models.PlatformSource, func(token string) error {
		url := s.client.baseURL + "/categories"
		return s.client.call(ctx, http.MethodGet, url, token, nil, &response)
	})
	if err != nil {
		return nil, err
	}
	return response.Categories, nil
}

// SourceAuth выполняет аутентификацию на source-платформе.
// Платформа выдает единственный bearer-токен; обновление выполняется
// секретом без повторной передачи ключа, полный вход — парой ключ/секрет
type SourceAuth struct {
	client  *Client
	authURL string
}

// NewSourceAuth создает клиента аутентификации source-платформы
func NewSourceAuth(authURL string, timeout time.Duration) *SourceAuth {
	return &SourceAuth{
		client:  NewClient(authURL, timeout),
		authURL: authURL,
	}
}

type sourceTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // секунды
}

// Login выполняет полный вход парой ключ/секрет
func (a *SourceAuth) Login(ctx context.Context, integration *models.Integration) (string, time.Time, error) {
	body := map[string]string{
		"consumer_key":    integration.SourceKey,
		"consumer_secret": integration.SourceSecret,
	}

	var resp sourceTokenResponse
	if err := a.client.call(ctx, http.MethodPost, a.authURL, "", body, &resp); err != nil {
		return "", time.Time{}, err
	}

	return resp.AccessToken, time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

// Refresh обновляет токен секретом без полного входа
func (a *SourceAuth) Refresh(ctx context.Context, integration *models.Integration) (string, time.Time, error) {
	body := map[string]string{
		"consumer_secret": integration.SourceSecret,
		"access_token":    integration.SourceToken,
	}

	var resp sourceTokenResponse
	if err := a.client.call(ctx, http.MethodPost, a.authURL+"/refresh", "", body, &resp); err != nil {
		return "", time.Time{}, err
	}

	return resp.AccessToken, time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}
