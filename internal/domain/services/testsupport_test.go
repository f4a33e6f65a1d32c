package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
	"github.com/athebyme/catalog-sync/pkg/interfaces"
)

// noopLogger — логгер-заглушка для тестов
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                          {}
func (noopLogger) Info(string, ...interface{})                           {}
func (noopLogger) Warn(string, ...interface{})                           {}
func (noopLogger) Error(string, ...interface{})                          {}
func (noopLogger) Fatal(string, ...interface{})                          {}
func (noopLogger) DebugWithContext(context.Context, string, ...interface{}) {}
func (noopLogger) InfoWithContext(context.Context, string, ...interface{})  {}
func (noopLogger) WarnWithContext(context.Context, string, ...interface{})  {}
func (noopLogger) ErrorWithContext(context.Context, string, ...interface{}) {}
func (l noopLogger) WithFields(...interfaces.LogField) interfaces.LoggerPort { return l }
func (l noopLogger) WithField(string, interface{}) interfaces.LoggerPort     { return l }
func (l noopLogger) WithIntegration(int64) interfaces.LoggerPort             { return l }
func (noopLogger) Sync() error                                               { return nil }

// nopTxManager выполняет функцию без открытия транзакции
type nopTxManager struct{}

func (nopTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memCache — кэш в памяти с поддержкой блокировок
type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
	locks map[string]struct{}
}

func newMemCache() *memCache {
	return &memCache{
		items: make(map[string][]byte),
		locks: make(map[string]struct{}),
	}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[key]; ok {
		return v, nil
	}
	return nil, errs.ErrCacheMiss
}

func (c *memCache) GetWithTenant(ctx context.Context, key, tenantID string) ([]byte, error) {
	return c.Get(ctx, tenantID+":"+key)
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *memCache) SetWithTenant(ctx context.Context, key string, value []byte, tenantID string, expiration time.Duration) error {
	return c.Set(ctx, tenantID+":"+key, value, expiration)
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memCache) DeleteWithTenant(ctx context.Context, key, tenantID string) error {
	return c.Delete(ctx, tenantID+":"+key)
}

func (c *memCache) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return false, nil
	}
	c.locks[key] = struct{}{}
	return true, nil
}

func (c *memCache) Unlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *memCache) Close() error { return nil }

// memStorage — хранилище в памяти, реализует интерфейсы интеграций и сопоставлений
type memStorage struct {
	mu           sync.Mutex
	integrations map[int64]*models.Integration
	correlations []*models.CorrelationRecord
	nextID       int64
}

func newMemStorage() *memStorage {
	return &memStorage{
		integrations: make(map[int64]*models.Integration),
		nextID:       1,
	}
}

func (s *memStorage) GetIntegration(_ context.Context, integrationID int64) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration, ok := s.integrations[integrationID]; ok {
		copied := *integration
		return &copied, nil
	}
	return nil, nil
}

func (s *memStorage) SaveIntegration(_ context.Context, integration *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *integration
	s.integrations[integration.ID] = &copied
	return nil
}

func (s *memStorage) SetIntegrationActive(_ context.Context, integrationID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration, ok := s.integrations[integrationID]; ok {
		integration.Active = active
	}
	return nil
}

func (s *memStorage) UpdateSourceToken(_ context.Context, integrationID int64, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration, ok := s.integrations[integrationID]; ok {
		integration.SourceToken = token
		integration.SourceTokenExpiresAt = expiresAt
	}
	return nil
}

func (s *memStorage) UpdateTargetTokens(_ context.Context, integrationID int64, accessToken, refreshToken string, accessExpiresAt, refreshExpiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration, ok := s.integrations[integrationID]; ok {
		integration.TargetAccessToken = accessToken
		integration.TargetRefreshToken = refreshToken
		integration.TargetAccessExpiresAt = accessExpiresAt
		integration.TargetRefreshExpiresAt = refreshExpiresAt
	}
	return nil
}

func (s *memStorage) GetCorrelationBySourceID(_ context.Context, integrationID int64, kind models.EntityKind, sourceID string) (*models.CorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.correlations {
		if record.IntegrationID == integrationID && record.Kind == kind &&
			record.SourceID == sourceID && record.State != models.CorrelationDeleted {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStorage) GetCorrelationByTargetID(_ context.Context, integrationID int64, kind models.EntityKind, targetID string) (*models.CorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.correlations {
		if record.IntegrationID == integrationID && record.Kind == kind &&
			record.TargetID == targetID && record.State != models.CorrelationDeleted {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStorage) UpsertCorrelation(_ context.Context, record *models.CorrelationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range s.correlations {
		if existing.IntegrationID == record.IntegrationID && existing.Kind == record.Kind &&
			existing.SourceID == record.SourceID && existing.State != models.CorrelationDeleted {
			existing.TargetID = record.TargetID
			existing.State = record.State
			existing.UpdatedAt = now
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
			record.UpdatedAt = now
			return nil
		}
	}
	record.ID = s.nextID
	s.nextID++
	record.CreatedAt = now
	record.UpdatedAt = now
	copied := *record
	s.correlations = append(s.correlations, &copied)
	return nil
}

func (s *memStorage) MarkCorrelationDeletedBySourceID(_ context.Context, integrationID int64, kind models.EntityKind, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.correlations {
		if record.IntegrationID == integrationID && record.Kind == kind &&
			record.SourceID == sourceID && record.State != models.CorrelationDeleted {
			record.State = models.CorrelationDeleted
		}
	}
	return nil
}

func (s *memStorage) MarkCorrelationDeletedByTargetID(_ context.Context, integrationID int64, kind models.EntityKind, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.correlations {
		if record.IntegrationID == integrationID && record.Kind == kind &&
			record.TargetID == targetID && record.State != models.CorrelationDeleted {
			record.State = models.CorrelationDeleted
		}
	}
	return nil
}

func (s *memStorage) ListActiveCorrelations(_ context.Context, integrationID int64, kind models.EntityKind) ([]*models.CorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []*models.CorrelationRecord
	for _, record := range s.correlations {
		if record.IntegrationID == integrationID && record.Kind == kind && record.State != models.CorrelationDeleted {
			copied := *record
			records = append(records, &copied)
		}
	}
	return records, nil
}

// fakeSource — source-платформа в памяти
type fakeSource struct {
	mu         sync.Mutex
	products   map[string]*models.SourceProduct
	variants   map[string]*models.SourceVariant
	brands     []*models.SourceBrand
	categories []*models.SourceCategory

	variantErr map[string]error
	fetchCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		products:   make(map[string]*models.SourceProduct),
		variants:   make(map[string]*models.SourceVariant),
		variantErr: make(map[string]error),
	}
}

func (f *fakeSource) FetchProduct(_ context.Context, _ *models.Integration, productID string) (*models.SourceProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if product, ok := f.products[productID]; ok {
		return product, nil
	}
	return nil, &errs.RemoteError{Category: errs.RemoteNotFound, Status: 404, Message: "product not found"}
}

func (f *fakeSource) FetchVariant(_ context.Context, _ *models.Integration, variantID string) (*models.SourceVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.variantErr[variantID]; ok {
		return nil, err
	}
	if variant, ok := f.variants[variantID]; ok {
		return variant, nil
	}
	return nil, &errs.RemoteError{Category: errs.RemoteNotFound, Status: 404, Message: "variant not found"}
}

func (f *fakeSource) FetchBrands(_ context.Context, _ *models.Integration) ([]*models.SourceBrand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.brands, nil
}

func (f *fakeSource) FetchCategories(_ context.Context, _ *models.Integration) ([]*models.SourceCategory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories, nil
}

// fakeTarget — target-платформа в памяти, считает вызовы по операциям
type fakeTarget struct {
	mu     sync.Mutex
	nextID int
	calls  map[string]int

	products   map[string]*models.TargetProduct
	skus       map[string]*models.TargetSku
	brands     map[string]*models.TargetBrand
	categories map[string]*models.TargetCategory
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		nextID:     1,
		calls:      make(map[string]int),
		products:   make(map[string]*models.TargetProduct),
		skus:       make(map[string]*models.TargetSku),
		brands:     make(map[string]*models.TargetBrand),
		categories: make(map[string]*models.TargetCategory),
	}
}

func (f *fakeTarget) allocate(prefix string) string {
	id := fmt.Sprintf("%s-%d", prefix, f.nextID)
	f.nextID++
	return id
}

func (f *fakeTarget) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTarget) CreateProduct(_ context.Context, _ *models.Integration, product *models.TargetProduct) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_product"]++
	id := f.allocate("tp")
	f.products[id] = product
	return id, nil
}

func (f *fakeTarget) UpdateProduct(_ context.Context, _ *models.Integration, targetID string, product *models.TargetProduct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update_product"]++
	if _, ok := f.products[targetID]; !ok {
		return &errs.RemoteError{Category: errs.RemoteNotFound, Status: 404}
	}
	f.products[targetID] = product
	return nil
}

func (f *fakeTarget) DeleteProduct(_ context.Context, _ *models.Integration, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete_product"]++
	if _, ok := f.products[targetID]; !ok {
		return &errs.RemoteError{Category: errs.RemoteNotFound, Status: 404}
	}
	delete(f.products, targetID)
	return nil
}

func (f *fakeTarget) CreateSku(_ context.Context, _ *models.Integration, _ string, sku *models.TargetSku) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_sku"]++
	id := f.allocate("ts")
	f.skus[id] = sku
	return id, nil
}

func (f *fakeTarget) UpdateSku(_ context.Context, _ *models.Integration, skuTargetID string, sku *models.TargetSku) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update_sku"]++
	f.skus[skuTargetID] = sku
	return nil
}

func (f *fakeTarget) DeleteSku(_ context.Context, _ *models.Integration, skuTargetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete_sku"]++
	if _, ok := f.skus[skuTargetID]; !ok {
		return &errs.RemoteError{Category: errs.RemoteNotFound, Status: 404}
	}
	delete(f.skus, skuTargetID)
	return nil
}

func (f *fakeTarget) CreateBrand(_ context.Context, _ *models.Integration, brand *models.TargetBrand) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_brand"]++
	id := f.allocate("tb")
	f.brands[id] = brand
	return id, nil
}

func (f *fakeTarget) UpdateBrand(_ context.Context, _ *models.Integration, targetID string, brand *models.TargetBrand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update_brand"]++
	f.brands[targetID] = brand
	return nil
}

func (f *fakeTarget) DeleteBrand(_ context.Context, _ *models.Integration, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete_brand"]++
	delete(f.brands, targetID)
	return nil
}

func (f *fakeTarget) CreateCategory(_ context.Context, _ *models.Integration, category *models.TargetCategory) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_category"]++
	id := f.allocate("tc")
	f.categories[id] = category
	return id, nil
}

func (f *fakeTarget) UpdateCategory(_ context.Context, _ *models.Integration, targetID string, category *models.TargetCategory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update_category"]++
	f.categories[targetID] = category
	return nil
}

func (f *fakeTarget) DeleteCategory(_ context.Context, _ *models.Integration, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete_category"]++
	delete(f.categories, targetID)
	return nil
}

// newTestCorrelationService собирает сервис сопоставлений поверх памяти
func newTestCorrelationService(store *memStorage) *CorrelationService {
	return NewCorrelationService(store, newMemCache(), nopTxManager{}, noopLogger{})
}

func activeIntegration(id int64) *models.Integration {
	return &models.Integration{
		ID:              id,
		Active:          true,
		SourceKey:       "key",
		SourceSecret:    "secret",
		TargetStorePath: "stores/acme",
	}
}
