package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxUploadBytes bounds a single screenshot upload.
const maxUploadBytes = 16 << 20

// UploadScreenshot accepts one capture as multipart form data under the
// "image" field and runs the sampling decision for it.
func (c *Controller) UploadScreenshot(ctx echo.Context) error {
	user := currentUser(ctx)

	file, err := ctx.FormFile("image")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing image field"})
	}
	if file.Size > maxUploadBytes {
		return ctx.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "image too large"})
	}

	src, err := file.Open()
	if err != nil {
		return c.fail(ctx, err, "opening upload failed")
	}
	defer func() { _ = src.Close() }()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return c.fail(ctx, err, "reading upload failed")
	}
	if len(data) > maxUploadBytes {
		return ctx.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "image too large"})
	}

	decision, err := c.decider.Process(ctx.Request().Context(), user.ID, data)
	if err != nil {
		return c.fail(ctx, err, "processing screenshot failed")
	}
	return ctx.JSON(http.StatusOK, decision)
}
