package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"personnelexport/internal/model"
	"personnelexport/internal/portal"
	"personnelexport/internal/service"
	serviceMocks "personnelexport/internal/service/mocks"
	"personnelexport/internal/tabular"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testDefaults = service.Defaults{Limit: 100, MaxLimit: 500, Division: 0}

func newMockService() *serviceMocks.MockExportService {
	m := new(serviceMocks.MockExportService)
	m.On("Defaults").Return(testDefaults)
	return m
}

func sampleResult() *service.ExportResult {
	return &service.ExportResult{
		Export: &model.Export{
			ID:             uuid.New().String(),
			Account:        "officer@example.org",
			RequestedLimit: 50,
			RowCount:       2,
			Columns:        []string{"name", "email"},
			StoragePath:    "exports/x.csv",
			Size:           42,
		},
		Table: &tabular.Table{
			Columns: []string{"name", "email"},
			Rows: [][]string{
				{"Ann", "ann@example.org"},
				{"Bob", "bob@example.org"},
			},
		},
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func postForm(app *fiber.App, form url.Values) (*http.Response, error) {
	req := httptest.NewRequest(http.MethodPost, "/export", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return app.Test(req)
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportForm(t *testing.T) {
	mockSvc := newMockService()
	app := fiber.New()
	app.Get("/", ExportForm(mockSvc))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body := readBody(t, resp)
	assert.Contains(t, body, "Personnel Data Export")
	assert.Contains(t, body, `name="email"`)
	assert.Contains(t, body, `type="password"`)
	assert.Contains(t, body, `max="500"`)
	assert.Contains(t, body, `value="100"`)
	assert.NotContains(t, body, "Download CSV")
}

func TestSubmitExport(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mockSvc := newMockService()
		app := fiber.New()
		app.Post("/export", SubmitExport(mockSvc))

		res := sampleResult()
		mockSvc.On("Run", mock.Anything, service.ExportRequest{
			Email:    "officer@example.org",
			Password: "s3cret",
			Limit:    50,
			Division: 3,
		}).Return(res, nil).Once()

		resp, err := postForm(app, url.Values{
			"email":    {" officer@example.org "},
			"password": {"s3cret"},
			"limit":    {"50"},
			"division": {"3"},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := readBody(t, resp)
		assert.Contains(t, body, "Login successful!")
		assert.Contains(t, body, "Data loaded!")
		assert.Contains(t, body, "<th>name</th>")
		assert.Contains(t, body, "<td>bob@example.org</td>")
		assert.Contains(t, body, "/exports/"+res.Export.ID+"/download")
		assert.Contains(t, body, `download="personnel.csv"`)
		assert.NotContains(t, body, "s3cret")
		mockSvc.AssertExpectations(t)
	})

	t.Run("defaults when limit omitted", func(t *testing.T) {
		mockSvc := newMockService()
		app := fiber.New()
		app.Post("/export", SubmitExport(mockSvc))

		mockSvc.On("Run", mock.Anything, mock.MatchedBy(func(r service.ExportRequest) bool {
			return r.Limit == testDefaults.Limit && r.Division == testDefaults.Division
		})).Return(sampleResult(), nil).Once()

		resp, err := postForm(app, url.Values{"email": {"a@b.c"}, "password": {"x"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("non-numeric limit", func(t *testing.T) {
		mockSvc := newMockService()
		app := fiber.New()
		app.Post("/export", SubmitExport(mockSvc))

		resp, err := postForm(app, url.Values{"email": {"a@b.c"}, "password": {"x"}, "limit": {"many"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "whole number")
		mockSvc.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantLogin   bool
	}{
		{"credentials missing", service.ErrCredentialsRequired, http.StatusBadRequest, "Email and password are required.", false},
		{"limit out of range", fmt.Errorf("%w: too many", service.ErrInvalidLimit), http.StatusBadRequest, "Number of personnel must be between 1 and 500.", false},
		{"token missing", fmt.Errorf("fetch personnel: %w", portal.ErrTokenNotFound), http.StatusBadGateway, "Could not find the login form token.", false},
		{"login rejected", fmt.Errorf("fetch personnel: %w", portal.ErrLoginFailed), http.StatusUnauthorized, "Login failed, check credentials.", false},
		{"login page unavailable", fmt.Errorf("fetch personnel: %w: login page returned 503", portal.ErrUnexpectedStatus), http.StatusBadGateway, "The portal returned an unexpected status.", false},
		{"data endpoint status", fmt.Errorf("fetch personnel: %w: returned 500", portal.ErrDataStatus), http.StatusBadGateway, "The portal returned an unexpected status.", true},
		{"no data", service.ErrNoData, http.StatusNotFound, "No data returned.", true},
		{"invalid json", fmt.Errorf("fetch personnel: %w", portal.ErrInvalidJSON), http.StatusBadGateway, "The portal did not return JSON data.", true},
		{"internal", errors.New("minio down"), http.StatusInternalServerError, "internal server error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := newMockService()
			app := fiber.New()
			app.Post("/export", SubmitExport(mockSvc))

			mockSvc.On("Run", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			resp, err := postForm(app, url.Values{"email": {"officer@example.org"}, "password": {"pw"}, "limit": {"10"}})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := readBody(t, resp)
			assert.Contains(t, body, tt.wantMessage)
			assert.Contains(t, body, `value="officer@example.org"`)
			if tt.wantLogin {
				assert.Contains(t, body, "Login successful!")
			} else {
				assert.NotContains(t, body, "Login successful!")
			}
			assert.NotContains(t, body, "Data loaded!")
			assert.NotContains(t, body, "minio down")
			mockSvc.AssertExpectations(t)
		})
	}
}

func TestDownloadExport(t *testing.T) {
	mockSvc := newMockService()
	app := fiber.New()
	app.Get("/exports/:id/download", DownloadExport(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		csv := "name,email\nAnn,ann@example.org\n"
		mockSvc.On("Open", mock.Anything, id).
			Return(io.NopCloser(strings.NewReader(csv)), &model.Export{ID: id, Size: int64(len(csv))}, nil).Once()

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/exports/"+id+"/download", nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, `attachment; filename=personnel.csv`, resp.Header.Get("Content-Disposition"))
		assert.Equal(t, csv, readBody(t, resp))
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Open", mock.Anything, id).Return(nil, nil, service.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/exports/"+id+"/download", nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/exports/nope/download", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCreateExport(t *testing.T) {
	mockSvc := newMockService()
	app := fiber.New()
	app.Post("/api/exports", CreateExport(mockSvc))

	newReq := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/exports", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	t.Run("success", func(t *testing.T) {
		res := sampleResult()
		mockSvc.On("Run", mock.Anything, service.ExportRequest{
			Email: "officer@example.org", Password: "pw", Limit: 2,
		}).Return(res, nil).Once()

		resp, err := app.Test(newReq(`{"email":"officer@example.org","password":"pw","limit":2}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var got exportResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, res.Export.ID, got.Export.ID)
		assert.Equal(t, []string{"name", "email"}, got.Columns)
		assert.Len(t, got.Rows, 2)
		mockSvc.AssertExpectations(t)
	})

	t.Run("login failed", func(t *testing.T) {
		mockSvc.On("Run", mock.Anything, mock.Anything).Return(nil, portal.ErrLoginFailed).Once()

		resp, _ := app.Test(newReq(`{"email":"officer@example.org","password":"bad"}`))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "LOGIN_FAILED", body.Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		mockSvc.On("Run", mock.Anything, mock.Anything).Return(nil, service.ErrInvalidLimit).Once()

		resp, _ := app.Test(newReq(`{"email":"a@b.c","password":"pw","limit":9999}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "INVALID_LIMIT", body.Error.Code)
		assert.Equal(t, "Number of personnel must be between 1 and 500.", body.Error.Message)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := app.Test(newReq(`{"email":`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "INVALID_BODY", body.Error.Code)
	})
}

func TestListExports(t *testing.T) {
	mockSvc := newMockService()
	app := fiber.New()
	app.Get("/api/exports", ListExports(mockSvc))

	t.Run("success", func(t *testing.T) {
		expectedRes := &service.ExportListResult{
			Items: []model.Export{{ID: uuid.New().String(), RowCount: 3}},
			Total: 1,
		}
		mockSvc.On("List", mock.Anything, 10, 0).Return(expectedRes, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/exports?limit=10&offset=0", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result service.ExportListResult
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Len(t, result.Items, 1)
		assert.Equal(t, 1, result.Total)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/exports?limit=abc", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "INVALID_LIMIT", body.Error.Code)
	})

	t.Run("invalid offset", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/exports?offset=-x", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "INVALID_OFFSET", body.Error.Code)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything, 10, 0).Return(nil, errors.New("service error")).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/exports", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestGetExport(t *testing.T) {
	mockSvc := newMockService()
	app := fiber.New()
	app.Get("/api/exports/:id", GetExport(mockSvc, 15*time.Minute))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Get", mock.Anything, id).Return(&model.Export{ID: id, RowCount: 2}, nil).Once()
		mockSvc.On("DownloadURL", mock.Anything, id).Return("https://minio.local/exports/"+id+".csv?X-Amz-Signature=abc", nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/exports/"+id, nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, id, result["id"])
		assert.Contains(t, result["download_url"], "X-Amz-Signature")
		assert.NotEmpty(t, result["download_url_expires_at"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Get", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/exports/"+id, nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/exports/invalid-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_ID", res.Error.Code)
	})

	t.Run("service error", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Get", mock.Anything, id).Return(nil, errors.New("db error")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/exports/"+id, nil))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestDeleteExport(t *testing.T) {
	mockSvc := newMockService()
	app := fiber.New()
	app.Delete("/api/exports/:id", DeleteExport(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Delete", mock.Anything, id).Return(nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/api/exports/"+id, nil))
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Delete", mock.Anything, id).Return(service.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/api/exports/"+id, nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Delete", mock.Anything, id).Return(errors.New("delete error")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/api/exports/"+id, nil))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	mockSvc := newMockService()
	RegisterRoutes(app, nil, mockSvc, time.Minute)

	t.Run("form route", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "METHOD_NOT_ALLOWED", res.Error.Code)
	})
}

func TestClassify(t *testing.T) {
	ue := classify(fmt.Errorf("wrapped: %w", portal.ErrUnexpectedStatus), 500)
	assert.Equal(t, http.StatusBadGateway, ue.Status)
	assert.Equal(t, "UPSTREAM_STATUS", ue.Code)

	ue = classify(tabular.ErrRecordNotObject, 500)
	assert.Equal(t, "UPSTREAM_INVALID_DATA", ue.Code)
}
