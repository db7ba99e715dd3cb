package catalog

import "time"

type SizeStock struct {
	Size  int `json:"size"`
	Stock int `json:"stock"`
}

type Product struct {
	ID         string      `json:"id"`
	SKU        string      `json:"sku"`
	Name       string      `json:"name"`
	Brand      string      `json:"brand"`
	PriceCents int         `json:"price_cents"`
	Sizes      []SizeStock `json:"sizes"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
