package orders

// CartLine is one line of the client-assembled cart snapshot handed to
// checkout. Prices are deliberately absent: the authoritative unit price
// is read from the catalog at placement time, never taken from the client.
type CartLine struct {
	ProductID string `json:"product_id"`
	Size      int    `json:"size"`
	Qty       int    `json:"qty"`
}

const (
	ReasonUnknownSize = "UNKNOWN_SIZE"
	ReasonOutOfStock  = "OUT_OF_STOCK"
)

// Shortage describes one cart line that cannot be satisfied.
type Shortage struct {
	ProductID string `json:"product_id"`
	Size      int    `json:"size"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}
