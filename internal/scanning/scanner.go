package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// Summary and line item field types produced by expense analysis
const (
	FieldVendorName  = "VENDOR_NAME"
	FieldTotal       = "TOTAL"
	FieldReceiptDate = "INVOICE_RECEIPT_DATE"
	FieldItem        = "ITEM"
	FieldPrice       = "PRICE"
	FieldAmount      = "AMOUNT"
)

// Field is a typed value detected in a document
type Field struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// LineItemFields holds the fields of a single purchased entry
type LineItemFields struct {
	Fields []Field `json:"fields"`
}

// LineItemGroup is a table of line items, e.g. one per receipt section
type LineItemGroup struct {
	LineItems []LineItemFields `json:"line_items"`
}

// Document is one detected receipt or invoice
type Document struct {
	Index          int             `json:"index"`
	SummaryFields  []Field         `json:"summary_fields"`
	LineItemGroups []LineItemGroup `json:"line_item_groups"`
}

// Result is the output of a document analysis call
type Result struct {
	Documents []Document `json:"documents"`
}

// LineItem is a purchased entry. Price is only meaningful after normalization.
type LineItem struct {
	Description string          `json:"description"`
	RawPrice    string          `json:"raw_price,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// Record is the canonical receipt read from a document.
// Empty strings mean the field was not found.
type Record struct {
	Vendor   string          `json:"vendor,omitempty"`
	Date     string          `json:"date,omitempty"`
	RawTotal string          `json:"raw_total,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Items    []LineItem      `json:"items"`
}

// Analyzer defines the interface for document analysis services
type Analyzer interface {
	// Analyze locates typed expense fields in a receipt image or PDF
	Analyze(ctx context.Context, data []byte, contentType string) (*Result, error)
}
