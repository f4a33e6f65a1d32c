package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
)

// VariantFetcher загружает варианты товара с source-платформы
type VariantFetcher interface {
	FetchVariant(ctx context.Context, integration *models.Integration, variantID string) (*models.SourceVariant, error)
}

// Converter переводит сущности source-платформы в представление
// target-платформы. Перевод числовых идентификаторов брендов и категорий
// в строковые target-идентификаторы выполняется через сопоставления;
// отсутствие сопоставления — ошибка конвертации, а не молчаливый пропуск
type Converter struct {
	correlations *CorrelationService
	variants     VariantFetcher
	maxParallel  int
	now          func() time.Time
}

// NewConverter создает новый конвертер.
// maxParallel ограничивает параллелизм загрузки вариантов товара
func NewConverter(correlations *CorrelationService, variants VariantFetcher, maxParallel int) *Converter {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Converter{
		correlations: correlations,
		variants:     variants,
		maxParallel:  maxParallel,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// EffectiveSalePrice возвращает цену продажи, действующую в момент now.
// Окно акции полуоткрытое [start, end): в момент начала акционная цена уже
// действует, в момент конца — уже нет. Отсутствие начала означает, что
// акция уже началась, отсутствие конца — что она бессрочна. Вне окна и
// при отсутствии акции действует обычная цена price
func EffectiveSalePrice(price float64, promotion models.SourcePromotion, now time.Time) float64 {
	if promotion.Price <= 0 {
		return price
	}
	if promotion.StartsAt != nil && now.Before(*promotion.StartsAt) {
		return price
	}
	if promotion.EndsAt != nil && !now.Before(*promotion.EndsAt) {
		return price
	}
	return promotion.Price
}

func targetStatus(available int) string {
	if available > 0 {
		return models.TargetStatusActive
	}
	return models.TargetStatusInactive
}

// ToTargetProduct конвертирует товар source-платформы в товар target-платформы.
// Товар с вариантами получает по SKU на каждый вариант, варианты загружаются
// параллельно; ошибка загрузки любого варианта проваливает конвертацию
// целиком, частично собранный товар не возвращается
func (c *Converter) ToTargetProduct(ctx context.Context, integration *models.Integration, product *models.SourceProduct) (*models.TargetProduct, error) {
	target := &models.TargetProduct{
		Name:         product.Name,
		Description:  product.Description,
		Status:       targetStatus(product.Available),
		Price:        product.Price,
		SalePrice:    EffectiveSalePrice(product.Price, product.Promotion, c.now()),
		FreeShipping: product.FreeShip != 0,
		Dimensions: models.TargetDimensions{
			Weight: product.Weight,
			Length: product.Length,
			Width:  product.Width,
			Height: product.Height,
		},
	}

	if product.BrandID != 0 {
		brandTargetID, err := c.correlations.ResolveTargetID(ctx, integration.ID, models.KindBrand, strconv.FormatInt(product.BrandID, 10))
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, &errs.CorrelationError{Kind: string(models.KindBrand), SourceID: strconv.FormatInt(product.BrandID, 10)}
			}
			return nil, err
		}
		target.BrandID = brandTargetID
	}

	for _, categoryID := range product.CategoryIDs {
		categoryTargetID, err := c.correlations.ResolveTargetID(ctx, integration.ID, models.KindCategory, strconv.FormatInt(categoryID, 10))
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, &errs.CorrelationError{Kind: string(models.KindCategory), SourceID: strconv.FormatInt(categoryID, 10)}
			}
			return nil, err
		}
		target.CategoryIDs = append(target.CategoryIDs, categoryTargetID)
	}

	// Порядок изображений source-платформы сохраняется, нумерация с единицы
	for i, image := range product.Images {
		target.Images = append(target.Images, models.TargetImage{
			URL:      image.URL,
			Sequence: i + 1,
		})
	}

	skus, err := c.buildSkus(ctx, integration, product)
	if err != nil {
		return nil, err
	}
	target.Skus = skus

	return target, nil
}

// buildSkus собирает SKU товара. Товар без вариантов порождает единственный
// SKU из собственных полей товара
func (c *Converter) buildSkus(ctx context.Context, integration *models.Integration, product *models.SourceProduct) ([]models.TargetSku, error) {
	if !product.HasVariants || len(product.VariantIDs) == 0 {
		return []models.TargetSku{{
			Code:      product.Reference,
			Price:     product.Price,
			SalePrice: EffectiveSalePrice(product.Price, product.Promotion, c.now()),
			Stock:     product.Stock,
			Status:    targetStatus(product.Available),
		}}, nil
	}

	skus := make([]models.TargetSku, len(product.VariantIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	for i, variantID := range product.VariantIDs {
		i, variantID := i, variantID
		g.Go(func() error {
			variant, err := c.variants.FetchVariant(gctx, integration, strconv.FormatInt(variantID, 10))
			if err != nil {
				return &errs.PartialFetchError{
					ProductID: strconv.FormatInt(product.ID, 10),
					VariantID: strconv.FormatInt(variantID, 10),
					Err:       err,
				}
			}
			skus[i] = c.ToTargetSku(variant)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return skus, nil
}

// ToTargetSku конвертирует вариант товара в SKU target-платформы
func (c *Converter) ToTargetSku(variant *models.SourceVariant) models.TargetSku {
	return models.TargetSku{
		Code:      variant.Reference,
		Barcode:   variant.Barcode,
		Price:     variant.Price,
		SalePrice: EffectiveSalePrice(variant.Price, variant.Promotion, c.now()),
		Stock:     variant.Stock,
		Status:    targetStatus(variant.Available),
	}
}

// ToTargetBrand конвертирует бренд source-платформы
func (c *Converter) ToTargetBrand(brand *models.SourceBrand) *models.TargetBrand {
	return &models.TargetBrand{
		Name: brand.Name,
		Slug: brand.Slug,
	}
}

// ToTargetCategory конвертирует категорию source-платформы. Родительская
// категория переводится через сопоставление; отсутствие сопоставления —
// ошибка конвертации: молчаливый перенос категории в корень исказил бы
// дерево каталога target-платформы. Следующий проход сверки доберет
// категорию после синхронизации родителя
func (c *Converter) ToTargetCategory(ctx context.Context, integration *models.Integration, category *models.SourceCategory) (*models.TargetCategory, error) {
	target := &models.TargetCategory{
		Name:        category.Name,
		Description: category.Description,
	}

	if category.ParentID != 0 {
		parentTargetID, err := c.correlations.ResolveTargetID(ctx, integration.ID, models.KindCategory, strconv.FormatInt(category.ParentID, 10))
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, &errs.CorrelationError{Kind: string(models.KindCategory), SourceID: strconv.FormatInt(category.ParentID, 10)}
			}
			return nil, err
		}
		target.ParentID = parentTargetID
	}

	return target, nil
}
