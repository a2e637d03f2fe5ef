package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/suggestionhub"
)

// StreamSuggestions serves the per-user SSE stream. The connection stays
// open until the client goes away or the hub drops it; a failed write means
// the client is gone and ends the stream.
func (c *Controller) StreamSuggestions(ctx echo.Context) error {
	user := currentUser(ctx)

	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	ctx.Response().WriteHeader(http.StatusOK)

	client := c.hub.Subscribe(user.ID)
	defer c.hub.Unsubscribe(client)

	c.logger.Debug("suggestion stream opened",
		"user_id", user.ID, "client_id", client.ID, "remote", ctx.RealIP())

	if err := c.catchUp(ctx, user.ID); err != nil {
		return nil
	}

	reqCtx := ctx.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-client.Done():
			return nil
		case ev := <-client.Events():
			if err := writeEvent(ctx.Response(), ev); err != nil {
				c.logger.Debug("suggestion stream write failed",
					"user_id", user.ID, "client_id", client.ID, "error", err)
				return nil
			}
		}
	}
}

// catchUp replays the newest suggestion to a reconnecting client that
// announced its last seen event via Last-Event-ID.
func (c *Controller) catchUp(ctx echo.Context, userID uint) error {
	last := ctx.Request().Header.Get("Last-Event-ID")
	if last == "" {
		return nil
	}
	lastID, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		return nil
	}

	suggestion, err := c.store.LatestSuggestionForUser(userID)
	if err != nil || uint64(suggestion.ID) <= lastID {
		return nil
	}
	return writeEvent(ctx.Response(), suggestionhub.Event{
		Name: suggestionhub.EventSuggestions,
		ID:   strconv.FormatUint(uint64(suggestion.ID), 10),
		Data: datastore.PayloadFromSuggestion(suggestion),
	})
}

// writeEvent emits one SSE frame and flushes it through any buffering.
func writeEvent(w *echo.Response, ev suggestionhub.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
