package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mindtrack/mindtrack-go/internal/datastore"
)

// LatestSuggestion returns the newest suggestion for the caller, in the
// same shape the SSE stream pushes.
func (c *Controller) LatestSuggestion(ctx echo.Context) error {
	user := currentUser(ctx)

	suggestion, err := c.store.LatestSuggestionForUser(user.ID)
	if err != nil {
		return c.fail(ctx, err, "no suggestions yet")
	}
	return ctx.JSON(http.StatusOK, datastore.PayloadFromSuggestion(suggestion))
}

// analysisResultRequest is the worker callback body.
type analysisResultRequest struct {
	ImageID             uint     `json:"imageId"`
	RepresentativeImage string   `json:"representativeImage"`
	Description         string   `json:"description"`
	PredictedActions    []string `json:"predictedActions"`
	PredictedQuestions  []string `json:"predictedQuestions"`
}

// SubmitAnalysisResult finishes an analysis round: the screenshot record
// flips to done, the cached original is released and the suggestion row is
// inserted, which on Postgres fires the change notification.
func (c *Controller) SubmitAnalysisResult(ctx echo.Context) error {
	user := currentUser(ctx)

	var req analysisResultRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ImageID == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "imageId is required"})
	}

	record, err := c.store.GetScreenshotByUserAndID(user.ID, req.ImageID)
	if err != nil {
		return c.fail(ctx, err, "screenshot not found")
	}

	record.AnalysisStatus = datastore.StatusDone
	record.AnalysisResult = req.Description
	if err := c.store.SaveScreenshot(record); err != nil {
		return c.fail(ctx, err, "updating screenshot failed")
	}
	c.cache.DeleteOriginal(user.ID, record.ID)

	items := make([]datastore.SuggestionItem, 0, len(req.PredictedQuestions))
	for _, q := range req.PredictedQuestions {
		items = append(items, datastore.SuggestionItem{Question: q})
	}
	suggestion := &datastore.Suggestion{
		UserID:              user.ID,
		ImageID:             record.ID,
		RepresentativeImage: req.RepresentativeImage,
		Description:         req.Description,
		PredictedActions:    datastore.StringList(req.PredictedActions),
		CreatedAt:           time.Now(),
		Items:               items,
	}
	if err := c.store.SaveSuggestion(suggestion); err != nil {
		return c.fail(ctx, err, "saving suggestion failed")
	}

	c.logger.Info("analysis result recorded",
		"user_id", user.ID, "image_id", record.ID, "suggestion_id", suggestion.ID)
	return ctx.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"suggestionId": suggestion.ID,
	})
}
