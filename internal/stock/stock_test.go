package stock

import "testing"

func intPtr(v int) *int { return &v }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		quantity  int
		threshold *int
		want      Status
	}{
		{name: "zero without threshold", quantity: 0, want: StatusOutOfStock},
		{name: "zero beats threshold", quantity: 0, threshold: intPtr(10), want: StatusOutOfStock},
		{name: "oversold", quantity: -3, threshold: intPtr(10), want: StatusOutOfStock},
		{name: "below threshold", quantity: 5, threshold: intPtr(10), want: StatusLowStock},
		{name: "at threshold", quantity: 10, threshold: intPtr(10), want: StatusInStock},
		{name: "no threshold", quantity: 1, want: StatusInStock},
		{name: "zero threshold", quantity: 1, threshold: intPtr(0), want: StatusInStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.quantity, tt.threshold); got != tt.want {
				t.Fatalf("Classify(%d) = %s, want %s", tt.quantity, got, tt.want)
			}
		})
	}
}
