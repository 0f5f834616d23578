package stock

type Status string

const (
	StatusOutOfStock Status = "out_of_stock"
	StatusLowStock   Status = "low_stock"
	StatusInStock    Status = "in_stock"
)

// Classify derives the stock status of a product. It is never persisted.
// Zero (or a negative count left by an oversell) is out of stock regardless
// of the threshold; the threshold comparison is strict.
func Classify(quantity int, threshold *int) Status {
	if quantity <= 0 {
		return StatusOutOfStock
	}
	if threshold != nil && quantity < *threshold {
		return StatusLowStock
	}
	return StatusInStock
}
