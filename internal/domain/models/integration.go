package models

import "time"

// Platform идентифицирует одну из двух удаленных платформ интеграции
type Platform string

const (
	// PlatformSource — платформа, присылающая уведомления об изменениях каталога
	PlatformSource Platform = "source"
	// PlatformTarget — платформа, каталог которой поддерживается в актуальном состоянии
	PlatformTarget Platform = "target"
)

// Integration представляет связку магазинов двух платформ для одного продавца.
// Создается неактивной при онбординге, активируется после валидации учетных
// данных обеих платформ. Токены доступа мутируются на месте при каждом
// обновлении. Запись никогда не удаляется физически, только деактивируется.
type Integration struct {
	ID     int64 `json:"id"`
	Active bool  `json:"active"`

	// Учетные данные source-платформы: пара ключ/секрет плюс
	// опциональный bearer-токен с одним сроком действия
	SourceKey            string    `json:"source_key"`
	SourceSecret         string    `json:"-"`
	SourceToken          string    `json:"-"`
	SourceTokenExpiresAt time.Time `json:"source_token_expires_at"`

	// Учетные данные target-платформы: путь магазина и пара
	// access/refresh токенов с независимыми сроками действия
	TargetStorePath        string    `json:"target_store_path"`
	TargetAccessToken      string    `json:"-"`
	TargetRefreshToken     string    `json:"-"`
	TargetAccessExpiresAt  time.Time `json:"target_access_expires_at"`
	TargetRefreshExpiresAt time.Time `json:"target_refresh_expires_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSourceCredentials проверяет наличие базовых учетных данных source-платформы
func (i *Integration) HasSourceCredentials() bool {
	return i.SourceKey != "" && i.SourceSecret != ""
}

// HasTargetCredentials проверяет наличие базовых учетных данных target-платформы
func (i *Integration) HasTargetCredentials() bool {
	return i.TargetStorePath != "" && i.TargetRefreshToken != ""
}

// SourceTokenValid сообщает, действителен ли кэшированный токен source-платформы
func (i *Integration) SourceTokenValid(now time.Time) bool {
	return i.SourceToken != "" && now.Before(i.SourceTokenExpiresAt)
}

// TargetAccessTokenValid сообщает, действителен ли access-токен target-платформы
func (i *Integration) TargetAccessTokenValid(now time.Time) bool {
	return i.TargetAccessToken != "" && now.Before(i.TargetAccessExpiresAt)
}

// TargetRefreshTokenValid сообщает, действителен ли refresh-токен target-платформы
func (i *Integration) TargetRefreshTokenValid(now time.Time) bool {
	return i.TargetRefreshToken != "" && now.Before(i.TargetRefreshExpiresAt)
}
