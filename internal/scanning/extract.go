package scanning

import (
	"errors"
	"fmt"
	"strings"
)

// ExtractionError reports a document that produced no record
type ExtractionError struct {
	Document int
	Reason   string
}

func (e *ExtractionError) Error() string {
	if e.Document < 0 {
		return fmt.Sprintf("extraction failed: %s", e.Reason)
	}
	return fmt.Sprintf("extraction failed for document %d: %s", e.Document, e.Reason)
}

// Extract flattens an analysis result into one Record per document.
// Empty documents are skipped and reported in the joined error; the
// remaining records are still returned.
func Extract(result *Result) ([]Record, error) {
	if result == nil {
		return nil, &ExtractionError{Document: -1, Reason: "no analysis result"}
	}
	if len(result.Documents) == 0 {
		return nil, &ExtractionError{Document: -1, Reason: "no documents detected"}
	}

	records := make([]Record, 0, len(result.Documents))
	var errs []error
	for i, doc := range result.Documents {
		record, found := extractDocument(doc)
		if !found {
			errs = append(errs, &ExtractionError{Document: i, Reason: "no recognized fields"})
			continue
		}
		records = append(records, record)
	}

	return records, errors.Join(errs...)
}

// extractDocument reports whether any summary field or line item was recognized
func extractDocument(doc Document) (Record, bool) {
	record := Record{Items: make([]LineItem, 0)}
	found := false

	// Last value wins if a summary type repeats
	for _, field := range doc.SummaryFields {
		switch strings.TrimSpace(field.Type) {
		case FieldVendorName:
			record.Vendor = field.Value
			found = true
		case FieldTotal:
			record.RawTotal = field.Value
			found = true
		case FieldReceiptDate:
			record.Date = field.Value
			found = true
		}
	}

	for _, group := range doc.LineItemGroups {
		for _, lineItem := range group.LineItems {
			var item LineItem
			for _, field := range lineItem.Fields {
				switch strings.TrimSpace(field.Type) {
				case FieldItem:
					item.Description = field.Value
				case FieldPrice, FieldAmount:
					item.RawPrice = field.Value
				}
			}
			if item.Description == "" {
				continue
			}
			record.Items = append(record.Items, item)
			found = true
		}
	}

	return record, found
}
