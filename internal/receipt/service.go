package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/spend-tracker/internal/pipeline"
	"github.com/zombor/spend-tracker/internal/scanning"
)

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Classifier turns an analysis result into classified records
type Classifier interface {
	Run(ctx context.Context, result *scanning.Result) ([]pipeline.Outcome, error)
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db           DB
	analyzer     scanning.Analyzer
	classifier   Classifier
	storage      Storage
	idGenerator  IDGenerator
	timeSource   TimeSource
	dateFallback DateFallback
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDateFallback sets the policy for receipts with unreadable dates
func WithDateFallback(fallback DateFallback) ServiceOption {
	return func(s *Service) {
		s.dateFallback = fallback
	}
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, analyzer scanning.Analyzer, classifier Classifier, storage Storage, opts ...ServiceOption) *Service {
	return NewServiceWithDeps(db, analyzer, classifier, storage, &defaultIDGenerator{}, &defaultTimeSource{}, opts...)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, analyzer scanning.Analyzer, classifier Classifier, storage Storage, idGen IDGenerator, timeSrc TimeSource, opts ...ServiceOption) *Service {
	s := &Service{
		db:           db,
		analyzer:     analyzer,
		classifier:   classifier,
		storage:      storage,
		idGenerator:  idGen,
		timeSource:   timeSrc,
		dateFallback: FallbackToday,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce long names
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessReceipt stores an uploaded file, analyzes and classifies it, and
// saves one receipt per detected document. Receipts that could not be
// classified are saved with StatusClassificationFailed; the returned error
// then joins the failures alongside the saved receipts.
func (s *Service) ProcessReceipt(ctx context.Context, userID string, filename string, data []byte, contentType string) ([]*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(ctx, fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	result, err := s.analyzer.Analyze(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to analyze receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.cleanup(ctx, savedPath)
		return nil, fmt.Errorf("analyzing receipt: %w", err)
	}

	outcomes, err := s.classifier.Run(ctx, result)
	if err != nil {
		s.cleanup(ctx, savedPath)
		return nil, fmt.Errorf("processing receipt: %w", err)
	}

	receipts := make([]*Receipt, 0, len(outcomes))
	var errs []error
	for i, outcome := range outcomes {
		receiptID := id
		if i > 0 {
			receiptID = s.idGenerator.Generate()
		}

		date, err := resolveDate(outcome.Record.Date, now, s.dateFallback)
		if err != nil {
			slog.Warn("Skipping receipt without a usable date", "vendor", outcome.Record.Vendor, "error", err)
			errs = append(errs, err)
			continue
		}

		receipt := newReceipt(receiptID, userID, outcome, date, now)
		receipt.Filename = savedPath
		receipt.ContentType = contentType

		if err := s.db.SaveReceipt(ctx, receipt); err != nil {
			errs = append(errs, fmt.Errorf("saving receipt to database: %w", err))
			continue
		}
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
		receipts = append(receipts, receipt)
	}

	if len(receipts) == 0 {
		s.cleanup(ctx, savedPath)
		return nil, errors.Join(errs...)
	}

	return receipts, errors.Join(errs...)
}

func newReceipt(id, userID string, outcome pipeline.Outcome, date, now time.Time) *Receipt {
	items := make([]Item, len(outcome.Record.Items))
	for i, item := range outcome.Record.Items {
		items[i] = Item{Description: item.Description, Price: item.Price}
	}

	status := StatusClassified
	if outcome.Err != nil {
		status = StatusClassificationFailed
	}

	return &Receipt{
		ID:        id,
		UserID:    userID,
		Vendor:    outcome.Record.Vendor,
		Date:      date,
		Category:  outcome.Classification.Category,
		Status:    status,
		Total:     outcome.Record.Total,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) cleanup(ctx context.Context, path string) {
	if err := s.storage.Delete(ctx, path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns a user's receipts dated within [start, end]
func (s *Service) ListReceipts(ctx context.Context, userID string, start, end time.Time) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt, and its file once no other receipt
// from the same upload refers to it
func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	receipt, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.db.DeleteReceipt(ctx, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}

	siblings, err := s.db.ListReceipts(ctx, receipt.UserID, time.Time{}, time.Time{})
	if err != nil {
		slog.Warn("Keeping file, could not check other receipts", "filename", receipt.Filename, "error", err)
		return nil
	}
	for _, sibling := range siblings {
		if sibling.Filename == receipt.Filename {
			return nil
		}
	}

	s.cleanup(ctx, receipt.Filename)
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(ctx context.Context, id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(ctx, receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}
