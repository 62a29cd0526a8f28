package domain

// Product — запись каталога продавца. Здесь используется только для чтения,
// кроме количества, которое меняется через InventoryLedger.
type Product struct {
	ID         string
	SellerID   string
	SellerName string
	Title      string
	PriceMinor int64
	Unit       string
	ImageURL   string
	// Quantity — доступный остаток, никогда не опускается ниже нуля.
	Quantity  int32
	Available bool
}

// CartLineItem — позиция корзины в запросе на оформление.
type CartLineItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int32  `json:"quantity" validate:"gt=0"`
	// SellerID — подсказка клиента. Для группировки не используется.
	SellerID string `json:"seller_id,omitempty"`
}
