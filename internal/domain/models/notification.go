package models

import "github.com/athebyme/catalog-sync/pkg/errs"

// NotificationScope — область каталога, к которой относится уведомление
type NotificationScope string

const (
	ScopeProduct      NotificationScope = "product"
	ScopeProductPrice NotificationScope = "product_price"
	ScopeProductStock NotificationScope = "product_stock"
	ScopeVariant      NotificationScope = "variant"
	ScopeVariantPrice NotificationScope = "variant_price"
	ScopeVariantStock NotificationScope = "variant_stock"
	ScopeOrder        NotificationScope = "order"
	ScopeCustomer     NotificationScope = "customer"
)

// NotificationAction — тип изменения, о котором сообщает уведомление
type NotificationAction string

const (
	ActionInsert NotificationAction = "insert"
	ActionUpdate NotificationAction = "update"
	ActionDelete NotificationAction = "delete"
)

// ChangeNotification — входящее уведомление source-платформы об изменении.
// Живет только на время обработки; валидируется при получении и потребляется
// ровно один раз на успешную попытку обработки.
type ChangeNotification struct {
	SellerID    int64              `json:"seller_id"`
	Scope       NotificationScope  `json:"scope"`
	Action      NotificationAction `json:"act"`
	AppCode     string             `json:"app_code"`
	ScopeID     string             `json:"scope_id"`
	CallbackURL string             `json:"url,omitempty"` // информационное поле, ядром не используется
}

// Validate выполняет структурную проверку обязательных полей.
// Некорректное уведомление отклоняется до любых побочных эффектов.
func (n *ChangeNotification) Validate() error {
	if n.SellerID <= 0 {
		return &errs.ValidationError{Field: "seller_id", Reason: "must be positive"}
	}
	if n.Scope == "" {
		return &errs.ValidationError{Field: "scope", Reason: "is required"}
	}
	switch n.Action {
	case ActionInsert, ActionUpdate, ActionDelete:
	default:
		return &errs.ValidationError{Field: "act", Reason: "must be one of insert, update, delete"}
	}
	if n.AppCode == "" {
		return &errs.ValidationError{Field: "app_code", Reason: "is required"}
	}
	if n.ScopeID == "" {
		return &errs.ValidationError{Field: "scope_id", Reason: "is required"}
	}
	return nil
}
