package pipeline

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/zombor/spend-tracker/internal/classify"
	"github.com/zombor/spend-tracker/internal/metrics"
	"github.com/zombor/spend-tracker/internal/scanning"
)

// mockModel returns queued responses in call order
type mockModel struct {
	responses []string
	errs      []error
	prompts   []classify.Prompt
}

func (m *mockModel) Generate(ctx context.Context, prompt classify.Prompt) (string, error) {
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", nil
}

func (m *mockModel) Close() error {
	return nil
}

func document(vendor, total string, items ...[2]string) scanning.Document {
	doc := scanning.Document{
		SummaryFields: []scanning.Field{
			{Type: scanning.FieldVendorName, Value: vendor},
			{Type: scanning.FieldTotal, Value: total},
		},
	}
	var lineItems []scanning.LineItemFields
	for _, item := range items {
		lineItems = append(lineItems, scanning.LineItemFields{Fields: []scanning.Field{
			{Type: scanning.FieldItem, Value: item[0]},
			{Type: scanning.FieldPrice, Value: item[1]},
		}})
	}
	if len(lineItems) > 0 {
		doc.LineItemGroups = []scanning.LineItemGroup{{LineItems: lineItems}}
	}
	return doc
}

var _ = Describe("Orchestrator", func() {
	var (
		model        *mockModel
		orchestrator *Orchestrator
		result       *scanning.Result
		outcomes     []Outcome
		err          error
	)

	BeforeEach(func() {
		model = &mockModel{}
	})

	JustBeforeEach(func() {
		orchestrator = New(model, classify.DefaultCategorySet())
		outcomes, err = orchestrator.Run(context.Background(), result)
	})

	When("a single receipt is classified", func() {
		BeforeEach(func() {
			result = &scanning.Result{Documents: []scanning.Document{
				document("Joe's Coffee", "$4.50", [2]string{"Latte", "4.50"}),
			}}
			model.responses = []string{`{"predicted_category": "Cafe"}`}
		})

		It("should return the normalized record with its category", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(1))

			outcome := outcomes[0]
			Expect(outcome.Err).NotTo(HaveOccurred())
			Expect(outcome.Record.Vendor).To(Equal("Joe's Coffee"))
			Expect(outcome.Record.Total.Equal(decimal.RequireFromString("4.50"))).To(BeTrue())
			Expect(outcome.Record.Items).To(HaveLen(1))
			Expect(outcome.Record.Items[0].Price.Equal(decimal.RequireFromString("4.50"))).To(BeTrue())
			Expect(outcome.Classification).To(Equal(classify.Result{Category: "Cafe", Stage: classify.StageJSON}))
		})

		It("should send one prompt carrying the raw total", func() {
			Expect(model.prompts).To(HaveLen(1))
			Expect(model.prompts[0].Text).To(ContainSubstring("Joe's Coffee"))
			Expect(model.prompts[0].Text).To(ContainSubstring("$4.50"))
			Expect(model.prompts[0].Config).To(Equal(classify.DefaultGenerationConfig))
		})
	})

	When("the result has several documents", func() {
		BeforeEach(func() {
			result = &scanning.Result{Documents: []scanning.Document{
				document("Metro Transit", "2.75"),
				document("Grand Hotel", "1,250.00"),
			}}
			model.responses = []string{"Public Transport", `{"predicted_category": "Hotel"}`}
		})

		It("should classify each record in document order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(2))
			Expect(outcomes[0].Record.Vendor).To(Equal("Metro Transit"))
			Expect(outcomes[0].Classification).To(Equal(classify.Result{Category: "Public Transport", Stage: classify.StageContains}))
			Expect(outcomes[1].Record.Vendor).To(Equal("Grand Hotel"))
			Expect(outcomes[1].Record.Total.Equal(decimal.RequireFromString("1250.00"))).To(BeTrue())
			Expect(outcomes[1].Classification.Category).To(Equal("Hotel"))
			Expect(model.prompts).To(HaveLen(2))
		})
	})

	When("an amount cannot be normalized", func() {
		BeforeEach(func() {
			result = &scanning.Result{Documents: []scanning.Document{
				document("Corner Shop", "1.2.3", [2]string{"Gum", "."}),
			}}
			model.responses = []string{"Retail"}
		})

		It("should substitute zero and keep going", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes[0].Record.Total.IsZero()).To(BeTrue())
			Expect(outcomes[0].Record.Items[0].Price.IsZero()).To(BeTrue())
			Expect(outcomes[0].Record.RawTotal).To(Equal("1.2.3"))
		})
	})

	When("the model answers with nothing usable", func() {
		BeforeEach(func() {
			result = &scanning.Result{Documents: []scanning.Document{document("Shop", "1.00")}}
			model.responses = []string{"I cannot decide"}
		})

		It("should classify the record as Unknown", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes[0].Err).NotTo(HaveOccurred())
			Expect(outcomes[0].Classification).To(Equal(classify.Result{Category: classify.Unknown, Stage: classify.StageUnknown}))
		})
	})

	When("inference fails for one record", func() {
		BeforeEach(func() {
			result = &scanning.Result{Documents: []scanning.Document{
				document("First", "1.00"),
				document("Second", "2.00"),
			}}
			model.errs = []error{errors.New("service unavailable")}
			model.responses = []string{"", "Groceries"}
		})

		It("should carry an InferenceServiceError and continue", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(2))

			var inferenceErr *InferenceServiceError
			Expect(errors.As(outcomes[0].Err, &inferenceErr)).To(BeTrue())
			Expect(inferenceErr.Record).To(Equal(0))
			Expect(inferenceErr.Err).To(MatchError("service unavailable"))
			Expect(outcomes[0].Classification.Category).To(BeEmpty())

			Expect(outcomes[1].Err).NotTo(HaveOccurred())
			Expect(outcomes[1].Classification.Category).To(Equal("Groceries"))
		})
	})

	When("some documents are empty", func() {
		BeforeEach(func() {
			result = &scanning.Result{Documents: []scanning.Document{
				{},
				document("Bakery", "3.00"),
			}}
			model.responses = []string{"Groceries"}
		})

		It("should skip them without failing", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].Record.Vendor).To(Equal("Bakery"))
		})
	})

	When("no record can be extracted", func() {
		BeforeEach(func() {
			result = &scanning.Result{}
		})

		It("should return the extraction error", func() {
			var extractionErr *scanning.ExtractionError
			Expect(errors.As(err, &extractionErr)).To(BeTrue())
			Expect(outcomes).To(BeEmpty())
			Expect(model.prompts).To(BeEmpty())
		})
	})

	When("the result is nil", func() {
		BeforeEach(func() {
			result = nil
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Orchestrator metrics", func() {
	It("should record pipeline outcomes", func() {
		m := metrics.NewPipeline()
		model := &mockModel{
			responses: []string{"", `{"category": "Retail"}`},
			errs:      []error{errors.New("boom")},
		}
		orchestrator := New(model, classify.DefaultCategorySet(), WithMetrics(m))

		_, err := orchestrator.Run(context.Background(), &scanning.Result{Documents: []scanning.Document{
			document("A", "1.00"),
			{},
			document("B", "2.00"),
		}})
		Expect(err).NotTo(HaveOccurred())

		expected := `
# HELP spend_tracker_pipeline_classification_total Classified records by the parser stage that decided the category.
# TYPE spend_tracker_pipeline_classification_total counter
spend_tracker_pipeline_classification_total{stage="json"} 1
# HELP spend_tracker_pipeline_extraction_errors_total Detected documents that produced no record.
# TYPE spend_tracker_pipeline_extraction_errors_total counter
spend_tracker_pipeline_extraction_errors_total 1
# HELP spend_tracker_pipeline_inference_errors_total Inference calls that failed.
# TYPE spend_tracker_pipeline_inference_errors_total counter
spend_tracker_pipeline_inference_errors_total 1
# HELP spend_tracker_pipeline_records_total Receipt records extracted from analysis results.
# TYPE spend_tracker_pipeline_records_total counter
spend_tracker_pipeline_records_total 2
`
		Expect(testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
			"spend_tracker_pipeline_classification_total",
			"spend_tracker_pipeline_extraction_errors_total",
			"spend_tracker_pipeline_inference_errors_total",
			"spend_tracker_pipeline_records_total",
		)).To(Succeed())
		count, err := testutil.GatherAndCount(m.Registry(), "spend_tracker_pipeline_inference_duration_seconds")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})

	It("should use a custom parser", func() {
		set := classify.DefaultCategorySet()
		model := &mockModel{responses: []string{`{"label": "Hotel"}`}}
		orchestrator := New(model, set, WithParser(classify.NewParser(set, classify.WithFieldNames("label"))))

		outcomes, err := orchestrator.Run(context.Background(), &scanning.Result{Documents: []scanning.Document{
			document("Inn", "80.00"),
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(outcomes[0].Classification).To(Equal(classify.Result{Category: "Hotel", Stage: classify.StageJSON}))
	})
})
