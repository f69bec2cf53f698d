package storage

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

const (
	InvoiceBucket     = "orderflow-invoices"
	InvoiceTextBucket = "orderflow-invoice-text"
)

// InvoiceHTMLKey generates an S3 key for a rendered invoice document.
func InvoiceHTMLKey(customerID, invoiceID string, content []byte) string {
	return objectKey(customerID, invoiceID, content, "html")
}

// InvoiceTextKey generates an S3 key for the text extracted from an invoice.
func InvoiceTextKey(customerID, invoiceID string, content []byte) string {
	return objectKey(customerID, invoiceID, content, "txt")
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

func objectKey(customerID, invoiceID string, content []byte, ext string) string {
	if customerID == "" {
		customerID = "unknown"
	}
	// A short content hash keeps reissued invoices from overwriting each other.
	h := sha256.Sum256(content)
	return fmt.Sprintf("%s/%s_%x.%s", sanitize(customerID), sanitize(invoiceID), h[:8], ext)
}

func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "=", "_", " ", "_")
	return r.Replace(s)
}
