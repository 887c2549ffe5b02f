package receipt

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/spend-tracker/internal/classify"
	"github.com/zombor/spend-tracker/internal/inference"
	"github.com/zombor/spend-tracker/internal/metrics"
	"github.com/zombor/spend-tracker/internal/pipeline"
	"github.com/zombor/spend-tracker/internal/scanning"
)

// fakeTextract answers AnalyzeExpense with a fixed response
type fakeTextract struct {
	out   *textract.AnalyzeExpenseOutput
	calls int
}

func (f *fakeTextract) AnalyzeExpense(ctx context.Context, params *textract.AnalyzeExpenseInput, optFns ...func(*textract.Options)) (*textract.AnalyzeExpenseOutput, error) {
	f.calls++
	return f.out, nil
}

func expenseField(fieldType, value string) types.ExpenseField {
	return types.ExpenseField{
		Type:           &types.ExpenseType{Text: aws.String(fieldType)},
		ValueDetection: &types.ExpenseDetection{Text: aws.String(value)},
	}
}

var _ = Describe("Integration", func() {
	var (
		ctx      context.Context
		tempDir  string
		db       *BoltDB
		store    *LocalStorage
		analyzer *fakeTextract
		ollama   *ghttp.Server
		service  *Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		analyzer = &fakeTextract{out: &textract.AnalyzeExpenseOutput{
			ExpenseDocuments: []types.ExpenseDocument{{
				SummaryFields: []types.ExpenseField{
					expenseField("VENDOR_NAME", "Daily Grind"),
					expenseField("INVOICE_RECEIPT_DATE", "03/20/2024"),
					expenseField("TOTAL", "$42.50"),
				},
				LineItemGroups: []types.LineItemGroup{{
					LineItems: []types.LineItemFields{{
						LineItemExpenseFields: []types.ExpenseField{
							expenseField("ITEM", "Espresso beans"),
							expenseField("PRICE", "$42.50"),
						},
					}},
				}},
			}},
		}}

		ollama = ghttp.NewServer()
		ollama.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/generate"),
			ghttp.RespondWith(http.StatusOK, `{"response": "{\"predicted_category\": \"Cafe\"}", "done": true}`),
		))

		model := inference.NewGuarded("ollama", inference.NewOllama(ollama.URL(), "llama3.2"), inference.DefaultGuardConfig())
		orchestrator := pipeline.New(model, classify.DefaultCategorySet(), pipeline.WithMetrics(metrics.NewPipeline()))
		timeSrc := &mockTimeSource{now: time.Date(2024, 3, 21, 9, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, scanning.NewTextract(analyzer), orchestrator, store, &mockIDGenerator{ids: []string{"int-1"}}, timeSrc)
	})

	AfterEach(func() {
		ollama.Close()
		db.Close()
	})

	It("should process, summarize and delete a receipt end to end", func() {
		receipts, err := service.ProcessReceipt(ctx, "alice", "latte.jpg", []byte("\xff\xd8\xff\xe0fake jpeg"), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(1))
		Expect(analyzer.calls).To(Equal(1))
		Expect(ollama.ReceivedRequests()).To(HaveLen(1))

		saved, err := service.GetReceipt(ctx, "int-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Vendor).To(Equal("Daily Grind"))
		Expect(saved.Category).To(Equal("Cafe"))
		Expect(saved.DateString()).To(Equal("2024-03-20"))
		Expect(saved.Total.String()).To(Equal("42.5"))
		Expect(filepath.Join(tempDir, "receipts", saved.Filename)).To(BeAnExistingFile())

		summary, err := service.Summarize(ctx, "alice", "7")
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Count).To(Equal(1))
		Expect(summary.Categories).To(HaveLen(1))
		Expect(summary.Categories[0].Category).To(Equal("Cafe"))

		data, contentType, err := service.GetReceiptFile(ctx, "int-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(contentType).To(Equal("image/jpeg"))
		Expect(data).To(HavePrefix("\xff\xd8"))

		Expect(service.DeleteReceipt(ctx, "int-1")).To(Succeed())
		Expect(filepath.Join(tempDir, "receipts", saved.Filename)).NotTo(BeAnExistingFile())

		receipts, err = service.ListReceipts(ctx, "alice", time.Time{}, time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(BeEmpty())
	})

	It("should keep the receipt when the model is unavailable", func() {
		ollama.SetHandler(0, ghttp.RespondWith(http.StatusServiceUnavailable, "loading"))

		receipts, err := service.ProcessReceipt(ctx, "alice", "latte.jpg", []byte("\xff\xd8\xff\xe0fake jpeg"), "image/jpeg")
		Expect(err).To(HaveOccurred())
		Expect(receipts).To(HaveLen(1))
		Expect(receipts[0].Status).To(Equal(StatusClassificationFailed))

		saved, err := db.GetReceipt(ctx, "int-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Category).To(BeEmpty())
	})
})
