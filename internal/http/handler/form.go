package handler

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"personnelexport/internal/model"
	"personnelexport/internal/portal"
	"personnelexport/internal/service"
	"personnelexport/internal/storage"
	"personnelexport/internal/tabular"
)

const pageTitle = "Personnel Data Export"

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/page.html"))

type formValues struct {
	Email    string
	Limit    int
	MaxLimit int
	Division int
}

type pageData struct {
	Title        string
	Form         formValues
	Error        string
	Notices      []string
	Export       *model.Export
	Table        *tabular.Table
	DownloadPath string
	DownloadName string
}

func newPage(svc service.ExportService) pageData {
	d := svc.Defaults()
	return pageData{
		Title: pageTitle,
		Form: formValues{
			Limit:    d.Limit,
			MaxLimit: d.MaxLimit,
			Division: d.Division,
		},
	}
}

func renderPage(c *fiber.Ctx, status int, data pageData) error {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Status(status).Send(buf.Bytes())
}

// ExportForm renders the empty export form.
func ExportForm(svc service.ExportService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return renderPage(c, fiber.StatusOK, newPage(svc))
	}
}

// SubmitExport handles the form post: logs into the portal, fetches personnel
// and renders the table with a download link, or the form with the error.
func SubmitExport(svc service.ExportService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page := newPage(svc)
		page.Form.Email = strings.TrimSpace(c.FormValue("email"))

		limit, err := formInt(c, "limit", page.Form.Limit)
		if err != nil {
			page.Error = "Number of personnel must be a whole number."
			return renderPage(c, fiber.StatusBadRequest, page)
		}
		page.Form.Limit = limit

		division, err := formInt(c, "division", page.Form.Division)
		if err != nil {
			page.Error = "Division must be a whole number."
			return renderPage(c, fiber.StatusBadRequest, page)
		}
		page.Form.Division = division

		res, err := svc.Run(c.UserContext(), service.ExportRequest{
			Email:    page.Form.Email,
			Password: c.FormValue("password"),
			Limit:    limit,
			Division: division,
		})
		if err != nil {
			ue := classify(err, page.Form.MaxLimit)
			if failedAfterLogin(err) {
				page.Notices = append(page.Notices, "Login successful!")
			}
			page.Error = ue.Message
			return renderPage(c, ue.Status, page)
		}

		page.Notices = append(page.Notices, "Login successful!", "Data loaded!")
		page.Export = res.Export
		page.Table = res.Table
		page.DownloadPath = "/exports/" + res.Export.ID + "/download"
		page.DownloadName = service.DownloadFilename
		return renderPage(c, fiber.StatusOK, page)
	}
}

// DownloadExport streams the CSV file of a stored export.
func DownloadExport(svc service.ExportService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := exportID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		rc, exp, err := svc.Open(c.UserContext(), id)
		if err != nil {
			ue := classify(err, 0)
			return writeError(c, ue.Status, ue.Code, ue.Message)
		}

		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, storage.AttachmentDisposition(service.DownloadFilename))
		size := -1
		if exp.Size > 0 {
			size = int(exp.Size)
		}
		return c.SendStream(rc, size)
	}
}

// failedAfterLogin reports errors that can only come from the data endpoint,
// i.e. the portal accepted the credentials.
func failedAfterLogin(err error) bool {
	return errors.Is(err, service.ErrNoData) ||
		errors.Is(err, portal.ErrDataStatus) ||
		errors.Is(err, portal.ErrInvalidJSON) ||
		errors.Is(err, tabular.ErrRecordNotObject)
}

func formInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.FormValue(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
