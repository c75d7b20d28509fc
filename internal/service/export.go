package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"personnelexport/internal/metrics"
	"personnelexport/internal/model"
	"personnelexport/internal/portal"
	"personnelexport/internal/repository"
	"personnelexport/internal/storage"
	"personnelexport/internal/tabular"
)

var (
	ErrIDRequired          = errors.New("id is required")
	ErrNotFound            = errors.New("export not found")
	ErrCredentialsRequired = errors.New("email and password are required")
	ErrInvalidLimit        = errors.New("invalid limit")
	ErrNoData              = errors.New("no data returned")
)

const (
	// DownloadFilename is the name browsers save exported CSV files under.
	DownloadFilename = "personnel.csv"
	csvContentType   = "text/csv"
)

var tracer = otel.Tracer("personnelexport/internal/service")

// ExportRequest is one user submission of the export form.
type ExportRequest struct {
	Email    string
	Password string
	Limit    int
	Division int
}

// ExportResult carries the stored export and the table shown to the user.
type ExportResult struct {
	Export *model.Export
	Table  *tabular.Table
}

// ExportListResult is the service-level DTO for paginated exports.
type ExportListResult struct {
	Items []model.Export `json:"data"`
	Total int            `json:"total"`
}

// ExportService defines the use cases for personnel exports.
type ExportService interface {
	// Run logs into the portal, fetches one page of personnel, stores it as CSV
	// and records the export. A zero Limit means the default limit.
	Run(ctx context.Context, req ExportRequest) (*ExportResult, error)

	// Defaults reports the form defaults and the maximum number of personnel per run.
	Defaults() Defaults

	// List returns exports using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*ExportListResult, error)

	// Get returns a single export by its ID.
	Get(ctx context.Context, id string) (*model.Export, error)

	// Open streams the CSV file of an export. The caller closes the reader.
	Open(ctx context.Context, id string) (io.ReadCloser, *model.Export, error)

	// DownloadURL returns a pre-signed URL for the CSV file of an export.
	DownloadURL(ctx context.Context, id string) (string, error)

	// Delete removes an export from both storage and repository.
	Delete(ctx context.Context, id string) error
}

// Defaults pre-fill the export form.
type Defaults struct {
	Limit    int
	MaxLimit int
	Division int
}

// Options tune an ExportService. Zero values fall back to defaults.
type Options struct {
	DefaultLimit  int
	MaxLimit      int
	Division      int
	PresignExpiry time.Duration
	Metrics       *metrics.ExportMetrics
	Logger        *slog.Logger
}

type exportService struct {
	fetcher portal.Fetcher
	store   storage.Storage
	repo    repository.ExportRepository
	opts    Options
	logger  *slog.Logger
}

// NewExportService constructs a new ExportService.
func NewExportService(fetcher portal.Fetcher, store storage.Storage, repo repository.ExportRepository, opts Options) ExportService {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 500
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = min(100, opts.MaxLimit)
	}
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = 15 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &exportService{fetcher: fetcher, store: store, repo: repo, opts: opts, logger: logger}
}

func (s *exportService) Defaults() Defaults {
	return Defaults{Limit: s.opts.DefaultLimit, MaxLimit: s.opts.MaxLimit, Division: s.opts.Division}
}

func (s *exportService) Run(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	ctx, span := tracer.Start(ctx, "ExportService.Run")
	defer span.End()
	start := time.Now()

	res, err := s.run(ctx, req)

	outcome := Outcome(err)
	rows := 0
	if res != nil {
		rows = res.Table.Len()
	}
	s.opts.Metrics.Observe(outcome, rows, time.Since(start))
	span.SetAttributes(
		attribute.String("export.outcome", outcome),
		attribute.Int("export.rows", rows),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Warn("export_failed",
			"outcome", outcome,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	s.logger.Info("export_completed",
		"export_id", res.Export.ID,
		"rows", rows,
		"columns", len(res.Table.Columns),
		"size", res.Export.Size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *exportService) run(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return nil, ErrCredentialsRequired
	}
	if req.Limit == 0 {
		req.Limit = s.opts.DefaultLimit
	}
	if req.Limit < 1 || req.Limit > s.opts.MaxLimit {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, s.opts.MaxLimit)
	}

	listing, err := s.fetcher.Fetch(ctx,
		portal.Credentials{Email: req.Email, Password: req.Password},
		portal.Query{Limit: req.Limit, Division: req.Division, Draw: 1},
	)
	if err != nil {
		return nil, fmt.Errorf("fetch personnel: %w", err)
	}
	if len(listing.Records) == 0 {
		return nil, ErrNoData
	}

	table, err := tabular.FromRecords(listing.Records)
	if err != nil {
		return nil, err
	}
	// Records without any fields carry nothing to export.
	if len(table.Columns) == 0 {
		return nil, ErrNoData
	}

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}

	id := uuid.New().String()
	key := path.Join("exports", id+".csv")

	objInfo, err := s.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), storage.PutObjectOptions{
		Size:               int64(buf.Len()),
		ContentType:        csvContentType,
		ContentDisposition: storage.AttachmentDisposition(DownloadFilename),
		Metadata: map[string]string{
			"account": req.Email,
			"rows":    strconv.Itoa(table.Len()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	exp := &model.Export{
		ID:             id,
		Account:        req.Email,
		Division:       req.Division,
		RequestedLimit: req.Limit,
		RowCount:       table.Len(),
		Columns:        table.Columns,
		StoragePath:    objInfo.Key,
		Size:           objInfo.Size,
		CreatedAt:      time.Now().UTC(),
	}
	stored, err := s.repo.Create(ctx, exp)
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	return &ExportResult{Export: stored, Table: table}, nil
}

// List returns paginated exports without exposing repository types.
func (s *exportService) List(ctx context.Context, limit, offset int) (*ExportListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &ExportListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *exportService) Get(ctx context.Context, id string) (*model.Export, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	exp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return exp, nil
}

func (s *exportService) Open(ctx context.Context, id string) (io.ReadCloser, *model.Export, error) {
	exp, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.store.Get(ctx, exp.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage object: %w", err)
	}
	return rc, exp, nil
}

func (s *exportService) DownloadURL(ctx context.Context, id string) (string, error) {
	exp, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	u, err := s.store.PresignGet(ctx, exp.StoragePath, DownloadFilename, s.opts.PresignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u, nil
}

// Delete removes the CSV object first; the row is kept if that fails so the
// object is never orphaned.
func (s *exportService) Delete(ctx context.Context, id string) error {
	exp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, exp.StoragePath); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

// Outcome maps an error returned by Run to a metrics outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrCredentialsRequired), errors.Is(err, ErrInvalidLimit):
		return metrics.OutcomeInvalidRequest
	case errors.Is(err, portal.ErrTokenNotFound):
		return metrics.OutcomeTokenMissing
	case errors.Is(err, portal.ErrLoginFailed):
		return metrics.OutcomeLoginFailed
	case errors.Is(err, portal.ErrUnexpectedStatus),
		errors.Is(err, portal.ErrInvalidJSON),
		errors.Is(err, tabular.ErrRecordNotObject):
		return metrics.OutcomeUpstreamError
	case errors.Is(err, ErrNoData):
		return metrics.OutcomeNoData
	default:
		return metrics.OutcomeInternalError
	}
}
