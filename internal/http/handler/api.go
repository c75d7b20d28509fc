package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"personnelexport/internal/model"
	"personnelexport/internal/service"
)

// createExportRequest is the JSON body of POST /api/exports.
type createExportRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Limit    int    `json:"limit"`
	Division int    `json:"division"`
}

// exportResponse is an export with its tabulated rows.
type exportResponse struct {
	Export  *model.Export `json:"export"`
	Columns []string      `json:"columns"`
	Rows    [][]string    `json:"rows"`
}

// exportDetail is an export with a time-limited download URL.
type exportDetail struct {
	*model.Export
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"download_url_expires_at,omitempty"`
}

func exportID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// CreateExport godoc
// @Summary Run a personnel export
// @Description Logs into the portal, fetches one page of personnel and stores it as CSV.
// @Tags exports
// @Accept json
// @Produce json
// @Param request body createExportRequest true "Portal credentials and query"
// @Success 201 {object} exportResponse
// @Failure 400 {object} errorPayload
// @Failure 401 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Failure 502 {object} errorPayload
// @Router /api/exports [post]
func CreateExport(svc service.ExportService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body createExportRequest
		if err := c.BodyParser(&body); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		res, err := svc.Run(c.UserContext(), service.ExportRequest{
			Email:    body.Email,
			Password: body.Password,
			Limit:    body.Limit,
			Division: body.Division,
		})
		if err != nil {
			ue := classify(err, svc.Defaults().MaxLimit)
			return writeError(c, ue.Status, ue.Code, ue.Message)
		}

		return c.Status(fiber.StatusCreated).JSON(exportResponse{
			Export:  res.Export,
			Columns: res.Table.Columns,
			Rows:    res.Table.Rows,
		})
	}
}

// ListExports godoc
// @Summary List exports
// @Tags exports
// @Produce json
// @Param limit query int false "Page size" default(10)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.ExportListResult
// @Failure 400 {object} errorPayload
// @Router /api/exports [get]
func ListExports(svc service.ExportService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetExport godoc
// @Summary Get an export
// @Tags exports
// @Produce json
// @Param id path string true "Export ID"
// @Success 200 {object} exportDetail
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /api/exports/{id} [get]
func GetExport(svc service.ExportService, presignExpiry time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := exportID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		exp, err := svc.Get(c.UserContext(), id)
		if err != nil {
			ue := classify(err, 0)
			return writeError(c, ue.Status, ue.Code, ue.Message)
		}

		issued := time.Now().UTC()
		u, err := svc.DownloadURL(c.UserContext(), id)
		if err != nil {
			ue := classify(err, 0)
			return writeError(c, ue.Status, ue.Code, ue.Message)
		}
		return c.JSON(exportDetail{Export: exp, DownloadURL: u, ExpiresAt: issued.Add(presignExpiry)})
	}
}

// DeleteExport godoc
// @Summary Delete an export
// @Tags exports
// @Param id path string true "Export ID"
// @Success 204
// @Failure 400 {object} errorPayload
// @Failure 404 {object} errorPayload
// @Router /api/exports/{id} [delete]
func DeleteExport(svc service.ExportService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := exportID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		if err := svc.Delete(c.UserContext(), id); err != nil {
			ue := classify(err, 0)
			return writeError(c, ue.Status, ue.Code, ue.Message)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
