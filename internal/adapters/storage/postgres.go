package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/tx"
)

// IntegrationStorageInterface определяет методы работы с интеграциями
type IntegrationStorageInterface interface {
	GetIntegration(ctx context.Context, integrationID int64) (*models.Integration, error)
	SaveIntegration(ctx context.Context, integration *models.Integration) error
	SetIntegrationActive(ctx context.Context, integrationID int64, active bool) error
	UpdateSourceToken(ctx context.Context, integrationID int64, token string, expiresAt time.Time) error
	UpdateTargetTokens(ctx context.Context, integrationID int64, accessToken, refreshToken string, accessExpiresAt, refreshExpiresAt time.Time) error
}

// CorrelationStorageInterface определяет методы работы с записями сопоставления
type CorrelationStorageInterface interface {
	GetCorrelationBySourceID(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) (*models.CorrelationRecord, error)
	GetCorrelationByTargetID(ctx context.Context, integrationID int64, kind models.EntityKind, targetID string) (*models.CorrelationRecord, error)
	UpsertCorrelation(ctx context.Context, record *models.CorrelationRecord) error
	MarkCorrelationDeletedBySourceID(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) error
	MarkCorrelationDeletedByTargetID(ctx context.Context, integrationID int64, kind models.EntityKind, targetID string) error
	ListActiveCorrelations(ctx context.Context, integrationID int64, kind models.EntityKind) ([]*models.CorrelationRecord, error)
}

// SyncStoragePort объединяет интерфейсы хранилища сервиса синхронизации
type SyncStoragePort interface {
	IntegrationStorageInterface
	CorrelationStorageInterface

	Close() error
}

// SyncStorage реализация SyncStoragePort для PostgreSQL
type SyncStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage создает новый экземпляр SyncStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*SyncStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &SyncStorage{pool: pool}, nil
}

// NewPostgresStorageWithPool создает хранилище поверх готового пула соединений
func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*SyncStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SyncStorage{pool: pool}, nil
}

// Pool возвращает пул соединений для менеджера транзакций
func (r *SyncStorage) Pool() *pgxpool.Pool {
	return r.pool
}

// Close закрывает соединение с БД
func (r *SyncStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов: транзакцию из контекста,
// если она открыта менеджером выше по стеку, иначе пул
func (r *SyncStorage) getExecutor(ctx context.Context) executor {
	if txFromCtx, ok := tx.FromContext(ctx); ok {
		return txFromCtx
	}
	return r.pool
}

// GetIntegration получает интеграцию по ID
func (r *SyncStorage) GetIntegration(ctx context.Context, integrationID int64) (*models.Integration, error) {
	query := `
		SELECT id, active, source_key, source_secret, source_token, source_token_expires_at,
			target_store_path, target_access_token, target_refresh_token,
			target_access_expires_at, target_refresh_expires_at, created_at, updated_at
		FROM sync.integrations
		WHERE id = $1
	`

	var integration models.Integration
	row := r.getExecutor(ctx).QueryRow(ctx, query, integrationID)
	err := row.Scan(&integration.ID, &integration.Active, &integration.SourceKey,
		&integration.SourceSecret, &integration.SourceToken, &integration.SourceTokenExpiresAt,
		&integration.TargetStorePath, &integration.TargetAccessToken, &integration.TargetRefreshToken,
		&integration.TargetAccessExpiresAt, &integration.TargetRefreshExpiresAt,
		&integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Интеграция не найдена
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	return &integration, nil
}

// SaveIntegration сохраняет интеграцию
func (r *SyncStorage) SaveIntegration(ctx context.Context, integration *models.Integration) error {
	query := `
		INSERT INTO sync.integrations (id, active, source_key, source_secret, source_token,
			source_token_expires_at, target_store_path, target_access_token, target_refresh_token,
			target_access_expires_at, target_refresh_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id)
		DO UPDATE SET
			active = $2,
			source_key = $3,
			source_secret = $4,
			source_token = $5,
			source_token_expires_at = $6,
			target_store_path = $7,
			target_access_token = $8,
			target_refresh_token = $9,
			target_access_expires_at = $10,
			target_refresh_expires_at = $11,
			updated_at = $13
	`

	now := time.Now().UTC()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}
	integration.UpdatedAt = now

	_, err := r.getExecutor(ctx).Exec(ctx, query, integration.ID, integration.Active,
		integration.SourceKey, integration.SourceSecret, integration.SourceToken,
		integration.SourceTokenExpiresAt, integration.TargetStorePath, integration.TargetAccessToken,
		integration.TargetRefreshToken, integration.TargetAccessExpiresAt,
		integration.TargetRefreshExpiresAt, integration.CreatedAt, integration.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}
	return nil
}

// SetIntegrationActive включает или выключает интеграцию
func (r *SyncStorage) SetIntegrationActive(ctx context.Context, integrationID int64, active bool) error {
	query := `
		UPDATE sync.integrations
		SET active = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := r.getExecutor(ctx).Exec(ctx, query, integrationID, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update integration state: %w", err)
	}
	return nil
}

// UpdateSourceToken сохраняет обновленный токен source-платформы.
// Вызывается менеджером токенов до возврата токена вызывающей стороне,
// чтобы конкурентный вызов увидел обновленный токен, а не получал свой
func (r *SyncStorage) UpdateSourceToken(ctx context.Context, integrationID int64, token string, expiresAt time.Time) error {
	query := `
		UPDATE sync.integrations
		SET source_token = $2, source_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.getExecutor(ctx).Exec(ctx, query, integrationID, token, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update source token: %w", err)
	}
	return nil
}

// UpdateTargetTokens сохраняет обновленную пару токенов target-платформы
func (r *SyncStorage) UpdateTargetTokens(ctx context.Context, integrationID int64, accessToken, refreshToken string, accessExpiresAt, refreshExpiresAt time.Time) error {
	query := `
		UPDATE sync.integrations
		SET target_access_token = $2, target_refresh_token = $3,
			target_access_expires_at = $4, target_refresh_expires_at = $5, updated_at = $6
		WHERE id = $1
	`

	_, err := r.getExecutor(ctx).Exec(ctx, query, integrationID, accessToken, refreshToken,
		accessExpiresAt, refreshExpiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update target tokens: %w", err)
	}
	return nil
}

// GetCorrelationBySourceID получает активную запись сопоставления по source-идентификатору
func (r *SyncStorage) GetCorrelationBySourceID(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) (*models.CorrelationRecord, error) {
	query := `
		SELECT id, integration_id, kind, source_id, target_id, state, created_at, updated_at
		FROM sync.correlations
		WHERE integration_id = $1 AND kind = $2 AND source_id = $3 AND state <> 'deleted'
	`

	return r.scanCorrelation(r.getExecutor(ctx).QueryRow(ctx, query, integrationID, kind, sourceID))
}

// GetCorrelationByTargetID получает активную запись сопоставления по target-идентификатору
func (r *SyncStorage) GetCorrelationByTargetID(ctx context.Context, integrationID int64, kind models.EntityKind, targetID string) (*models.CorrelationRecord, error) {
	query := `
		SELECT id, integration_id, kind, source_id, target_id, state, created_at, updated_at
		FROM sync.correlations
		WHERE integration_id = $1 AND kind = $2 AND target_id = $3 AND state <> 'deleted'
	`

	return r.scanCorrelation(r.getExecutor(ctx).QueryRow(ctx, query, integrationID, kind, targetID))
}

func (r *SyncStorage) scanCorrelation(row pgx.Row) (*models.CorrelationRecord, error) {
	var record models.CorrelationRecord
	err := row.Scan(&record.ID, &record.IntegrationID, &record.Kind, &record.SourceID,
		&record.TargetID, &record.State, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Сопоставление не найдено
		}
		return nil, fmt.Errorf("failed to get correlation: %w", err)
	}
	return &record, nil
}

// UpsertCorrelation сохраняет запись сопоставления идемпотентно: если для
// (integration, kind, source_id) уже существует активная запись, ее
// target_id и state перезаписываются, иначе создается новая запись
func (r *SyncStorage) UpsertCorrelation(ctx context.Context, record *models.CorrelationRecord) error {
	executor := r.getExecutor(ctx)
	now := time.Now().UTC()

	updateQuery := `
		UPDATE sync.correlations
		SET target_id = $4, state = $5, updated_at = $6
		WHERE integration_id = $1 AND kind = $2 AND source_id = $3 AND state <> 'deleted'
		RETURNING id, created_at
	`

	err := executor.QueryRow(ctx, updateQuery, record.IntegrationID, record.Kind,
		record.SourceID, record.TargetID, record.State, now).Scan(&record.ID, &record.CreatedAt)
	if err == nil {
		record.UpdatedAt = now
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to update correlation: %w", err)
	}

	insertQuery := `
		INSERT INTO sync.correlations (integration_id, kind, source_id, target_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	err = executor.QueryRow(ctx, insertQuery, record.IntegrationID, record.Kind,
		record.SourceID, record.TargetID, record.State, now).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert correlation: %w", err)
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

// MarkCorrelationDeletedBySourceID мягко удаляет активную запись по source-идентификатору
func (r *SyncStorage) MarkCorrelationDeletedBySourceID(ctx context.Context, integrationID int64, kind models.EntityKind, sourceID string) error {
	query := `
		UPDATE sync.correlations
		SET state = 'deleted', updated_at = $4
		WHERE integration_id = $1 AND kind = $2 AND source_id = $3 AND state <> 'deleted'
	`

	_, err := r.getExecutor(ctx).Exec(ctx, query, integrationID, kind, sourceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark correlation deleted: %w", err)
	}
	return nil
}

// MarkCorrelationDeletedByTargetID мягко удаляет активную запись по target-идентификатору
func (r *SyncStorage) MarkCorrelationDeletedByTargetID(ctx context.Context, integrationID int64, kind models.EntityKind, targetID string) error {
	query := `
		UPDATE sync.correlations
		SET state = 'deleted', updated_at = $4
		WHERE integration_id = $1 AND kind = $2 AND target_id = $3 AND state <> 'deleted'
	`

	_, err := r.getExecutor(ctx).Exec(ctx, query, integrationID, kind, targetID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark correlation deleted: %w", err)
	}
	return nil
}

// ListActiveCorrelations возвращает активные записи сопоставления
// в порядке возрастания числового ID — стабильном для детерминированного диффа
func (r *SyncStorage) ListActiveCorrelations(ctx context.Context, integrationID int64, kind models.EntityKind) ([]*models.CorrelationRecord, error) {
	query := `
		SELECT id, integration_id, kind, source_id, target_id, state, created_at, updated_at
		FROM sync.correlations
		WHERE integration_id = $1 AND kind = $2 AND state <> 'deleted'
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).Query(ctx, query, integrationID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations: %w", err)
	}
	defer rows.Close()

	var records []*models.CorrelationRecord
	for rows.Next() {
		var record models.CorrelationRecord
		err := rows.Scan(&record.ID, &record.IntegrationID, &record.Kind, &record.SourceID,
			&record.TargetID, &record.State, &record.CreatedAt, &record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correlation row: %w", err)
		}
		records = append(records, &record)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating correlation rows: %w", rows.Err())
	}

	return records, nil
}
