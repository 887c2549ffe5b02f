package scanning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// TextractAPI is the subset of the Textract client used for expense analysis
type TextractAPI interface {
	AnalyzeExpense(ctx context.Context, params *textract.AnalyzeExpenseInput, optFns ...func(*textract.Options)) (*textract.AnalyzeExpenseOutput, error)
}

// Textract implements the Analyzer interface using AWS Textract AnalyzeExpense
type Textract struct {
	client TextractAPI
}

// NewTextract creates a new Textract Analyzer
func NewTextract(client TextractAPI) *Textract {
	return &Textract{client: client}
}

// Analyze sends each page of the upload to AnalyzeExpense and concatenates
// the detected documents in page order
func (t *Textract) Analyze(ctx context.Context, data []byte, contentType string) (*Result, error) {
	pages, err := preparePages(data, contentType)
	if err != nil {
		return nil, err
	}

	result := &Result{Documents: make([]Document, 0, len(pages))}
	for i, page := range pages {
		out, err := t.client.AnalyzeExpense(ctx, &textract.AnalyzeExpenseInput{
			Document: &types.Document{Bytes: page},
		})
		if err != nil {
			return nil, fmt.Errorf("analyzing expense page %d: %w", i+1, err)
		}

		pageResult := FromTextract(out)
		slog.Debug("Analyzed page", "page", i+1, "documents", len(pageResult.Documents))
		for _, doc := range pageResult.Documents {
			doc.Index = len(result.Documents)
			result.Documents = append(result.Documents, doc)
		}
	}

	return result, nil
}

// FromTextract maps an AnalyzeExpense response onto the analysis tree.
// Missing type or value detections become empty strings.
func FromTextract(out *textract.AnalyzeExpenseOutput) *Result {
	result := &Result{Documents: make([]Document, 0)}
	if out == nil {
		return result
	}

	for i, expenseDoc := range out.ExpenseDocuments {
		doc := Document{
			Index:          i,
			SummaryFields:  convertFields(expenseDoc.SummaryFields),
			LineItemGroups: make([]LineItemGroup, 0, len(expenseDoc.LineItemGroups)),
		}
		for _, group := range expenseDoc.LineItemGroups {
			g := LineItemGroup{LineItems: make([]LineItemFields, 0, len(group.LineItems))}
			for _, lineItem := range group.LineItems {
				g.LineItems = append(g.LineItems, LineItemFields{
					Fields: convertFields(lineItem.LineItemExpenseFields),
				})
			}
			doc.LineItemGroups = append(doc.LineItemGroups, g)
		}
		result.Documents = append(result.Documents, doc)
	}

	return result
}

func convertFields(fields []types.ExpenseField) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		var field Field
		if f.Type != nil {
			field.Type = aws.ToString(f.Type.Text)
		}
		if f.ValueDetection != nil {
			field.Value = aws.ToString(f.ValueDetection.Text)
		}
		out = append(out, field)
	}
	return out
}
