package domain

// Product is a catalog entry as it is handed to the cart, before it has a quantity.
type Product struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
}

// LineItem is one product in the cart. Quantity is always >= 1 while the item is present.
type LineItem struct {
	Product
	Quantity int `json:"quantity"`
}

// Subtotal returns price * quantity for the line.
func (i LineItem) Subtotal() float64 {
	return i.Price * float64(i.Quantity)
}

// Totals summarises a snapshot for display.
type Totals struct {
	Items int     `json:"items"`
	Total float64 `json:"total"`
}

// CalculateTotals sums quantities and subtotals over the snapshot
func CalculateTotals(items []LineItem) Totals {
	var t Totals
	for _, item := range items {
		t.Items += item.Quantity
		t.Total += item.Subtotal()
	}
	return t
}
