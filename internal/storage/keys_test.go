package storage

import (
	"strings"
	"testing"
)

func TestInvoiceHTMLKey(t *testing.T) {
	t.Parallel()

	content := []byte("<html><body>Invoice</body></html>")
	hash := ContentHash(content)[:16]

	tests := []struct {
		name       string
		customerID string
		invoiceID  string
		want       string
	}{
		{
			name:       "standard ids",
			customerID: "c-42",
			invoiceID:  "inv-1001",
			want:       "c-42/inv-1001_" + hash + ".html",
		},
		{
			name:       "missing customer",
			customerID: "",
			invoiceID:  "inv-1001",
			want:       "unknown/inv-1001_" + hash + ".html",
		},
		{
			name:       "separators sanitized",
			customerID: "acme/eu",
			invoiceID:  "2024:07?x=1",
			want:       "acme_eu/2024_07_x_1_" + hash + ".html",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InvoiceHTMLKey(tt.customerID, tt.invoiceID, content)
			if got != tt.want {
				t.Errorf("InvoiceHTMLKey(%q, %q) = %q, want %q", tt.customerID, tt.invoiceID, got, tt.want)
			}
		})
	}
}

func TestInvoiceTextKey(t *testing.T) {
	t.Parallel()
	got := InvoiceTextKey("c-42", "inv-1001", []byte("Invoice"))
	if !strings.HasPrefix(got, "c-42/inv-1001_") || !strings.HasSuffix(got, ".txt") {
		t.Errorf("InvoiceTextKey() = %q, want c-42/inv-1001_<hash>.txt", got)
	}
}

func TestInvoiceKey_ContentAddressed(t *testing.T) {
	t.Parallel()
	a := InvoiceHTMLKey("c-42", "inv-1", []byte("first issue"))
	b := InvoiceHTMLKey("c-42", "inv-1", []byte("reissued"))
	if a == b {
		t.Errorf("different content produced the same key %q", a)
	}
	if again := InvoiceHTMLKey("c-42", "inv-1", []byte("first issue")); again != a {
		t.Errorf("same content produced %q then %q", a, again)
	}
}

func TestContentHash(t *testing.T) {
	t.Parallel()
	got := ContentHash([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("ContentHash() = %q, want %q", got, want)
	}
}
