package services

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/athebyme/catalog-sync/internal/adapters/storage"
	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// SourceAuthenticator выполняет аутентификацию на source-платформе
type SourceAuthenticator interface {
	// Login выполняет полный вход парой ключ/секрет
	Login(ctx context.Context, integration *models.Integration) (string, time.Time, error)

	// Refresh обновляет токен секретом
	Refresh(ctx context.Context, integration *models.Integration) (string, time.Time, error)
}

// TargetAuthenticator выполняет аутентификацию на target-платформе
type TargetAuthenticator interface {
	// Refresh обменивает refresh-токен на новую пару токенов
	Refresh(ctx context.Context, integration *models.Integration) (access, refresh string, accessExpiresAt, refreshExpiresAt time.Time, err error)

	// DeviceLogin выполняет полный вход по device/code flow
	DeviceLogin(ctx context.Context, integration *models.Integration) (access, refresh string, accessExpiresAt, refreshExpiresAt time.Time, err error)
}

// tokenCacheMargin — запас до истечения, с которым токен еще считается годным.
// Исключает выдачу токена, истекающего во время самого вызова
const tokenCacheMargin = 30 * time.Second

// TokenManager управляет жизненным циклом токенов доступа обеих платформ.
// Политика трехуровневая: кэшированный токен → обновление по refresh-учетным
// данным → полный повторный вход. Обе платформы обслуживаются одним
// менеджером, вызывающая сторона не ветвится по типу платформы.
type TokenManager struct {
	integrations storage.IntegrationStorageInterface
	sourceAuth   SourceAuthenticator
	targetAuth   TargetAuthenticator
	cache        *gocache.Cache
	group        singleflight.Group
	logger       interfaces.LoggerPort
	now          func() time.Time
}

// NewTokenManager создает новый менеджер токенов
func NewTokenManager(
	integrations storage.IntegrationStorageInterface,
	sourceAuth SourceAuthenticator,
	targetAuth TargetAuthenticator,
	logger interfaces.LoggerPort,
) *TokenManager {
	return &TokenManager{
		integrations: integrations,
		sourceAuth:   sourceAuth,
		targetAuth:   targetAuth,
		cache:        gocache.New(gocache.NoExpiration, 5*time.Minute),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

func tokenKey(integrationID int64, platform models.Platform) string {
	return fmt.Sprintf("%d:%s", integrationID, platform)
}

// AccessToken возвращает действующий токен доступа указанной платформы.
// Действующий кэшированный токен возвращается без сетевых вызовов. Истекший
// токен обновляется; конкурентные вызовы для одной пары (интеграция,
// платформа) сериализуются так, что обновление выполняется один раз, а его
// результат видят все вызывающие. Каждый успешный путь сохраняет токен
// в хранилище до возврата.
func (m *TokenManager) AccessToken(ctx context.Context, integration *models.Integration, platform models.Platform) (string, error) {
	if !integration.Active {
		return "", &errs.AuthenticationError{
			IntegrationID: integration.ID,
			Platform:      string(platform),
			Err:           errs.ErrIntegrationInactive,
		}
	}

	key := tokenKey(integration.ID, platform)

	if cached, ok := m.cache.Get(key); ok {
		entry := cached.(cachedToken)
		if m.now().Add(tokenCacheMargin).Before(entry.expiresAt) {
			return entry.token, nil
		}
	}

	token, err, _ := m.group.Do(key, func() (interface{}, error) {
		switch platform {
		case models.PlatformSource:
			return m.sourceToken(ctx, integration)
		case models.PlatformTarget:
			return m.targetToken(ctx, integration)
		default:
			return "", fmt.Errorf("unknown platform %q", platform)
		}
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

// Invalidate сбрасывает кэшированный токен платформы, вынуждая следующий
// вызов AccessToken выполнить обновление
func (m *TokenManager) Invalidate(integration *models.Integration, platform models.Platform) {
	m.cache.Delete(tokenKey(integration.ID, platform))
	switch platform {
	case models.PlatformSource:
		integration.SourceTokenExpiresAt = time.Time{}
	case models.PlatformTarget:
		integration.TargetAccessExpiresAt = time.Time{}
	}
}

// sourceToken реализует трехуровневую политику для source-платформы
func (m *TokenManager) sourceToken(ctx context.Context, integration *models.Integration) (string, error) {
	if !integration.HasSourceCredentials() {
		return "", &errs.AuthenticationError{
			IntegrationID: integration.ID,
			Platform:      string(models.PlatformSource),
			Err:           fmt.Errorf("source credentials are not configured"),
		}
	}

	now := m.now()
	if integration.SourceTokenValid(now) {
		m.cacheSource(integration)
		return integration.SourceToken, nil
	}

	// Уровень 2: обновление секретом
	if integration.SourceToken != "" {
		token, expiresAt, err := m.sourceAuth.Refresh(ctx, integration)
		if err == nil {
			return m.persistSourceToken(ctx, integration, token, expiresAt)
		}
		m.logger.WarnWithContext(ctx, "Обновление токена source-платформы не удалось, выполняется полный вход",
			interfaces.LogField{Key: "integration_id", Value: integration.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}

	// Уровень 3: полный вход парой ключ/секрет
	token, expiresAt, err := m.sourceAuth.Login(ctx, integration)
	if err != nil {
		return "", m.terminalAuthFailure(ctx, integration, models.PlatformSource, err)
	}

	return m.persistSourceToken(ctx, integration, token, expiresAt)
}

func (m *TokenManager) persistSourceToken(ctx context.Context, integration *models.Integration, token string, expiresAt time.Time) (string, error) {
	if err := m.integrations.UpdateSourceToken(ctx, integration.ID, token, expiresAt); err != nil {
		return "", fmt.Errorf("failed to persist source token: %w", err)
	}

	integration.SourceToken = token
	integration.SourceTokenExpiresAt = expiresAt
	m.cacheSource(integration)
	return token, nil
}

func (m *TokenManager) cacheSource(integration *models.Integration) {
	m.cache.Set(tokenKey(integration.ID, models.PlatformSource), cachedToken{
		token:     integration.SourceToken,
		expiresAt: integration.SourceTokenExpiresAt,
	}, time.Until(integration.SourceTokenExpiresAt))
}

// targetToken реализует трехуровневую политику для target-платформы
func (m *TokenManager) targetToken(ctx context.Context, integration *models.Integration) (string, error) {
	if !integration.HasTargetCredentials() {
		return "", &errs.AuthenticationError{
			IntegrationID: integration.ID,
			Platform:      string(models.PlatformTarget),
			Err:           fmt.Errorf("target credentials are not configured"),
		}
	}

	now := m.now()
	if integration.TargetAccessTokenValid(now) {
		m.cacheTarget(integration)
		return integration.TargetAccessToken, nil
	}

	// Уровень 2: обмен refresh-токена, пока тот не истек
	if integration.TargetRefreshTokenValid(now) {
		access, refresh, accessExp, refreshExp, err := m.targetAuth.Refresh(ctx, integration)
		if err == nil {
			return m.persistTargetTokens(ctx, integration, access, refresh, accessExp, refreshExp)
		}
		m.logger.WarnWithContext(ctx, "Обновление токенов target-платформы не удалось, выполняется device-вход",
			interfaces.LogField{Key: "integration_id", Value: integration.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}

	// Уровень 3: полный вход по device/code flow
	access, refresh, accessExp, refreshExp, err := m.targetAuth.DeviceLogin(ctx, integration)
	if err != nil {
		return "", m.terminalAuthFailure(ctx, integration, models.PlatformTarget, err)
	}

	return m.persistTargetTokens(ctx, integration, access, refresh, accessExp, refreshExp)
}

func (m *TokenManager) persistTargetTokens(ctx context.Context, integration *models.Integration, access, refresh string, accessExp, refreshExp time.Time) (string, error) {
	if err := m.integrations.UpdateTargetTokens(ctx, integration.ID, access, refresh, accessExp, refreshExp); err != nil {
		return "", fmt.Errorf("failed to persist target tokens: %w", err)
	}

	integration.TargetAccessToken = access
	integration.TargetRefreshToken = refresh
	integration.TargetAccessExpiresAt = accessExp
	integration.TargetRefreshExpiresAt = refreshExp
	m.cacheTarget(integration)
	return access, nil
}

func (m *TokenManager) cacheTarget(integration *models.Integration) {
	m.cache.Set(tokenKey(integration.ID, models.PlatformTarget), cachedToken{
		token:     integration.TargetAccessToken,
		expiresAt: integration.TargetAccessExpiresAt,
	}, time.Until(integration.TargetAccessExpiresAt))
}

// terminalAuthFailure деактивирует интеграцию после провала и обновления,
// и полного входа. Дальнейшая синхронизация невозможна до вмешательства
// оператора, автоматических повторов с теми же учетными данными не будет
func (m *TokenManager) terminalAuthFailure(ctx context.Context, integration *models.Integration, platform models.Platform, cause error) error {
	if err := m.integrations.SetIntegrationActive(ctx, integration.ID, false); err != nil {
		m.logger.ErrorWithContext(ctx, "Не удалось деактивировать интеграцию после ошибки аутентификации",
			interfaces.LogField{Key: "integration_id", Value: integration.ID},
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	} else {
		integration.Active = false
	}

	m.cache.Delete(tokenKey(integration.ID, platform))

	return &errs.AuthenticationError{
		IntegrationID: integration.ID,
		Platform:      string(platform),
		Err:           cause,
	}
}
