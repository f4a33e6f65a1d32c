package models

import (
	"strconv"
	"time"
)

// ---------------------------- SOURCE ----------------------------

// SourceImage — изображение товара на source-платформе
type SourceImage struct {
	URL string `json:"https"`
}

// SourcePromotion описывает акционное окно цены: промо-цена действует
// в интервале [StartsAt, EndsAt)
type SourcePromotion struct {
	Price    float64    `json:"promotional_price"`
	StartsAt *time.Time `json:"start_promotion,omitempty"`
	EndsAt   *time.Time `json:"end_promotion,omitempty"`
}

// SourceProduct — товар в представлении source-платформы
type SourceProduct struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	BrandID     int64           `json:"brand_id"`
	CategoryIDs []int64         `json:"category_ids"`
	Price       float64         `json:"price"`
	Promotion   SourcePromotion `json:"promotion"`
	Stock       int             `json:"stock"`
	Available   int             `json:"available"`     // 1 — доступен, 0 — скрыт
	FreeShip    int             `json:"free_shipping"` // 1 — бесплатная доставка
	Weight      float64         `json:"weight"`
	Length      float64         `json:"length"`
	Width       float64         `json:"width"`
	Height      float64         `json:"height"`
	Images      []SourceImage   `json:"images"`
	HasVariants bool            `json:"has_variation"`
	VariantIDs  []int64         `json:"variant_ids"`
}

// RecordID реализует SourceRecord
func (p *SourceProduct) RecordID() string { return strconv.FormatInt(p.ID, 10) }

// SourceVariant — вариант (SKU) товара на source-платформе
type SourceVariant struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Reference string          `json:"reference"`
	Barcode   string          `json:"ean"`
	Price     float64         `json:"price"`
	Promotion SourcePromotion `json:"promotion"`
	Stock     int             `json:"stock"`
	Available int             `json:"available"`
	Weight    float64         `json:"weight"`
}

// RecordID реализует SourceRecord
func (v *SourceVariant) RecordID() string { return strconv.FormatInt(v.ID, 10) }

// SourceBrand — бренд на source-платформе
type SourceBrand struct {
	ID   int64  `json:"id"`
	Name string `json:"brand"`
	Slug string `json:"slug"`
}

// RecordID реализует SourceRecord
func (b *SourceBrand) RecordID() string { return strconv.FormatInt(b.ID, 10) }

// SourceCategory — категория на source-платформе; дерево задается ParentID
type SourceCategory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    int64  `json:"parent_id"`
}

// RecordID реализует SourceRecord
func (c *SourceCategory) RecordID() string { return strconv.FormatInt(c.ID, 10) }

// ---------------------------- TARGET ----------------------------

// Статусы доступности на target-платформе
const (
	TargetStatusActive   = "ACTIVE"
	TargetStatusInactive = "INACTIVE"
)

// TargetImage — изображение на target-платформе; Sequence нумеруется с единицы
// и сохраняет порядок изображений source-платформы
type TargetImage struct {
	URL      string `json:"url"`
	Sequence int    `json:"sequence"`
}

// TargetDimensions — габариты упаковки; обязательные поля схемы target-платформы,
// при отсутствии эквивалента заполняются нулями
type TargetDimensions struct {
	Weight float64 `json:"weight"`
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TargetSku — SKU товара на target-платформе
type TargetSku struct {
	Code      string  `json:"code"`
	Barcode   string  `json:"barcode"`
	Price     float64 `json:"price"`
	SalePrice float64 `json:"sale_price"`
	Stock     int     `json:"stock"`
	Status    string  `json:"status"`
}

// TargetProduct — товар в представлении target-платформы
type TargetProduct struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	BrandID      string           `json:"brand_id"`
	CategoryIDs  []string         `json:"category_ids"`
	Status       string           `json:"status"`
	Price        float64          `json:"price"`
	SalePrice    float64          `json:"sale_price"`
	FreeShipping bool             `json:"free_shipping"`
	Dimensions   TargetDimensions `json:"dimensions"`
	Images       []TargetImage    `json:"images"`
	Skus         []TargetSku      `json:"skus"`
}

// TargetBrand — бренд на target-платформе
type TargetBrand struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// TargetCategory — категория на target-платформе
type TargetCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id,omitempty"`
}
