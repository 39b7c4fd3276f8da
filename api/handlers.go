package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"stickyboard/domain"
)

const saveNoteMaxSize = 256 * 1024 // 256 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/boards/:boardId/notes", listNotes(store, auth))
	e.POST("/boards/:boardId/notes", createNote(store, auth, logger))
	e.PUT("/boards/:boardId/notes/:noteId", saveNote(store, auth, deduper, logger), GzipRequestMiddleware())
	e.GET("/boards/:boardId/stream", streamNotes(store, auth))
	e.GET("/healthz", healthz(store))
}

type notesResponse struct {
	Notes []domain.Note `json:"notes"`
}

type noteResponse struct {
	Note domain.Note `json:"note"`
}

// saveNoteRequest is the full desired checklist for one note. ArchivedAt is
// kept raw so an absent field can be told apart from an explicit null: only
// reorder saves carry the field, and for those the client is authoritative.
type saveNoteRequest struct {
	ChecklistItems []domain.ChecklistItem `json:"checklistItems"`
	ArchivedAt     json.RawMessage        `json:"archivedAt,omitempty"`
}

type createNoteRequest struct {
	Color          string                 `json:"color,omitempty"`
	ChecklistItems []domain.ChecklistItem `json:"checklistItems"`
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func listNotes(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		notes, err := store.FetchNotes(ctx, c.Param("boardId"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, notesResponse{Notes: notes})
	}
}

func saveNote(store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newSaveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("boardId")
		noteID := c.Param("noteId")

		idemKey := c.Request().Header.Get("Idempotency-Key")
		if idemKey != "" && deduper != nil {
			added, dedupeErr := deduper.Add(ctx, userID, idemKey)
			if dedupeErr != nil {
				metrics.SetErrorStage("dedupe")
				c.Logger().Error(dedupeErr)
				err = c.String(http.StatusInternalServerError, "dedupe unavailable")
				return err
			}
			if !added {
				metrics.SetErrorStage("duplicate")
				err = c.String(http.StatusConflict, "duplicate request")
				return err
			}
		}
		// Past this point a failure must release the key so the client can
		// retry with it.
		releaseKey := func() {
			if idemKey == "" || deduper == nil {
				return
			}
			if rerr := deduper.Remove(ctx, userID, idemKey); rerr != nil {
				logger.WithError(rerr).WithField("key", idemKey).Error("dedupe rollback failed")
			}
		}

		decodeStart := time.Now()
		var req saveNoteRequest
		decodeErr := decodeBody(c.Request().Body, &req)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			releaseKey()
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		metrics.SetItems(len(req.ChecklistItems))

		archivedAt, archivePresent, parseErr := parseArchivedAt(req.ArchivedAt)
		if parseErr != nil {
			metrics.SetErrorStage("invalid_archived_at")
			releaseKey()
			err = c.String(http.StatusBadRequest, "invalid archivedAt")
			return err
		}
		if archivePresent && !denseOrders(req.ChecklistItems) {
			metrics.SetErrorStage("invalid_orders")
			releaseKey()
			err = c.String(http.StatusBadRequest, "orders must be a dense zero-based sequence")
			return err
		}

		existing, getErr := store.GetNote(ctx, boardID, noteID)
		if getErr != nil {
			releaseKey()
			if errors.Is(getErr, domain.ErrNoteNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.String(http.StatusNotFound, "note not found")
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(getErr)
			err = c.String(http.StatusInternalServerError, getErr.Error())
			return err
		}
		if existing.Owner != userID {
			metrics.SetErrorStage("not_owner")
			releaseKey()
			err = c.String(http.StatusNotFound, "note not found")
			return err
		}

		updated := existing.Clone()
		updated.ChecklistItems = confirmItemIDs(existing.ChecklistItems, req.ChecklistItems)
		domain.SortItems(updated.ChecklistItems)
		if archivePresent {
			updated.ArchivedAt = archivedAt
		} else {
			updated.ArchivedAt = recomputeArchive(existing.ArchivedAt, updated.ChecklistItems)
		}
		metrics.SetArchived(updated.ArchivedAt != nil)

		saveStart := time.Now()
		saved, saveErr := store.UpsertNote(ctx, updated)
		metrics.ObserveSave(time.Since(saveStart))
		if saveErr != nil {
			metrics.SetErrorStage("storage")
			releaseKey()
			c.Logger().Error(saveErr)
			err = c.String(http.StatusInternalServerError, saveErr.Error())
			return err
		}

		publishEvents(ctx, store, logger, saveEvents(userID, existing, saved))

		err = c.JSON(http.StatusOK, noteResponse{Note: saved})
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createNote(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createNoteRequest
		if err := decodeBody(c.Request().Body, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		items := make([]domain.ChecklistItem, len(req.ChecklistItems))
		copy(items, req.ChecklistItems)
		for i := range items {
			items[i].ID = domain.ItemID{Value: uuid.NewString()}
		}
		domain.SortItems(items)
		domain.Renumber(items)

		note := domain.Note{
			ID:             uuid.NewString(),
			BoardID:        c.Param("boardId"),
			Owner:          userID,
			Color:          req.Color,
			ChecklistItems: items,
			ArchivedAt:     recomputeArchive(nil, items),
		}

		created, err := store.InsertNote(ctx, note)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		publishEvents(ctx, store, logger, []domain.NoteEvent{{
			BoardID: created.BoardID,
			NoteID:  created.ID,
			Actor:   userID,
			Kind:    domain.EventNoteCreated,
			Time:    nextTimestamp(),
		}})

		return c.JSON(http.StatusCreated, created)
	}
}

func decodeBody(body io.Reader, dst any) error {
	lr := io.LimitReader(body, saveNoteMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseArchivedAt distinguishes an absent field (server recomputes the flag)
// from an explicit null (client clears it) and a timestamp (client sets it).
func parseArchivedAt(raw json.RawMessage) (*time.Time, bool, error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true, nil
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, true, err
	}
	t = t.UTC()
	return &t, true, nil
}

func denseOrders(items []domain.ChecklistItem) bool {
	for i, it := range items {
		if it.Order != i {
			return false
		}
	}
	return true
}

// confirmItemIDs assigns server identities to items the stored note does not
// know about, superseding client-generated temporary ids.
func confirmItemIDs(existing, submitted []domain.ChecklistItem) []domain.ChecklistItem {
	known := make(map[string]struct{}, len(existing))
	for _, it := range existing {
		known[it.ID.Value] = struct{}{}
	}
	out := make([]domain.ChecklistItem, len(submitted))
	copy(out, submitted)
	for i := range out {
		if _, ok := known[out[i].ID.Value]; !ok {
			out[i].ID = domain.ItemID{Value: uuid.NewString()}
		}
	}
	return out
}

// recomputeArchive derives the archive flag: non-nil exactly when the item
// set is non-empty and fully checked. An existing timestamp is preserved so
// repeated saves of an archived note do not move it.
func recomputeArchive(existing *time.Time, items []domain.ChecklistItem) *time.Time {
	if !domain.AllChecked(items) {
		return nil
	}
	if existing != nil {
		t := *existing
		return &t
	}
	now := time.Now().UTC()
	return &now
}

func saveEvents(userID string, before, after domain.Note) []domain.NoteEvent {
	events := []domain.NoteEvent{{
		BoardID: after.BoardID,
		NoteID:  after.ID,
		Actor:   userID,
		Kind:    domain.EventNoteSaved,
		Time:    nextTimestamp(),
	}}
	if before.ArchivedAt == nil && after.ArchivedAt != nil {
		events = append(events, domain.NoteEvent{
			BoardID: after.BoardID,
			NoteID:  after.ID,
			Actor:   userID,
			Kind:    domain.EventNoteArchived,
			Time:    nextTimestamp(),
		})
	}
	return events
}

// publishEvents is best effort; the save already succeeded and must not be
// failed retroactively over the activity feed.
func publishEvents(ctx context.Context, store Storage, logger *log.Logger, events []domain.NoteEvent) {
	if len(events) == 0 {
		return
	}
	if err := store.EnqueueEvents(ctx, events); err != nil {
		logger.WithError(err).Warn("failed to enqueue board events")
	}
}
