package services

import (
	"context"

	"github.com/athebyme/catalog-sync/internal/domain/models"
)

// SourceGateway — операции чтения каталога source-платформы
type SourceGateway interface {
	VariantFetcher

	FetchProduct(ctx context.Context, integration *models.Integration, productID string) (*models.SourceProduct, error)
	FetchBrands(ctx context.Context, integration *models.Integration) ([]*models.SourceBrand, error)
	FetchCategories(ctx context.Context, integration *models.Integration) ([]*models.SourceCategory, error)
}

// TargetGateway — операции записи каталога target-платформы
type TargetGateway interface {
	CreateProduct(ctx context.Context, integration *models.Integration, product *models.TargetProduct) (string, error)
	UpdateProduct(ctx context.Context, integration *models.Integration, targetID string, product *models.TargetProduct) error
	DeleteProduct(ctx context.Context, integration *models.Integration, targetID string) error

	CreateSku(ctx context.Context, integration *models.Integration, productTargetID string, sku *models.TargetSku) (string, error)
	UpdateSku(ctx context.Context, integration *models.Integration, skuTargetID string, sku *models.TargetSku) error
	DeleteSku(ctx context.Context, integration *models.Integration, skuTargetID string) error

	CreateBrand(ctx context.Context, integration *models.Integration, brand *models.TargetBrand) (string, error)
	UpdateBrand(ctx context.Context, integration *models.Integration, targetID string, brand *models.TargetBrand) error
	DeleteBrand(ctx context.Context, integration *models.Integration, targetID string) error

	CreateCategory(ctx context.Context, integration *models.Integration, category *models.TargetCategory) (string, error)
	UpdateCategory(ctx context.Context, integration *models.Integration, targetID string, category *models.TargetCategory) error
	DeleteCategory(ctx context.Context, integration *models.Integration, targetID string) error
}
