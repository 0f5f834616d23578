package csvexport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"posadmin/backend/internal/domain"
)

type pair struct{ a, b string }

var pairColumns = []Column[pair]{
	{"first", func(p pair) string { return p.a }},
	{"second", func(p pair) string { return p.b }},
}

func TestWriteQuotesSpecialFields(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, pairColumns, []pair{
		{`a,b"c`, "plain"},
		{"line\nbreak", ""},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	want := "first,second\r\n" +
		`"a,b""c",plain` + "\r\n" +
		"\"line\r\nbreak\",\r\n"
	if buf.String() != want {
		t.Fatalf("unexpected csv:\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestTemplateWritesHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := Template(&buf, ProductColumns); err != nil {
		t.Fatalf("template: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,name,sku,") {
		t.Fatalf("unexpected header %q", lines[0])
	}
}

func TestProductColumnsDeriveStockStatus(t *testing.T) {
	threshold := 5
	var buf bytes.Buffer
	err := Write(&buf, ProductColumns, []domain.Product{
		{ID: "p1", Name: "Apple", Price: decimal.RequireFromString("3"), StockQuantity: 2, LowStockThreshold: &threshold},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "p1,Apple,,,3.00,2,5,low_stock,false") {
		t.Fatalf("unexpected row: %q", buf.String())
	}
}

func TestWriteRequiresColumns(t *testing.T) {
	if err := Write[pair](&bytes.Buffer{}, nil, nil); err == nil {
		t.Fatalf("expected error without columns")
	}
}
