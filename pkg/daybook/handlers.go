package daybook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/snapshot"
	"github.com/daybook-app/daybook/pkg/store"
)

// maxSnapshotBytes bounds the snapshot request body.
const maxSnapshotBytes = 4 << 20

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createPageRequest struct {
	Title string `json:"title"`
}

func (a *App) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req createPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	page := &models.Page{
		ID:          models.NewPageID(),
		WorkspaceID: a.workspace.ID,
		Title:       req.Title,
		Kind:        models.PageKindPage,
		CreatedBy:   a.user.ID,
	}
	if err := a.store.CreatePage(r.Context(), page); err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusCreated, page)
}

func (a *App) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := a.store.ListPages(r.Context(), a.workspace.ID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, pages)
}

// pageResponse is a document root plus its rendered snapshot.
type pageResponse struct {
	Page  *models.Page    `json:"page"`
	Items []snapshot.Item `json:"items"`
}

func (a *App) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid page ID")
		return
	}

	page, items, err := a.session(id).OpenPage(r.Context(), id)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, pageResponse{Page: page, Items: items})
}

func (a *App) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid page ID")
		return
	}

	a.mu.Lock()
	session := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if session != nil {
		// Drop buffered writes; the page is going away anyway.
		_ = session.Close(r.Context())
	}

	if err := a.store.DeletePage(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.respondError(w, http.StatusNotFound, "page not found")
			return
		}
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusNoContent, nil)
}

// handlePutSnapshot accepts the editor's full document snapshot and hands
// it to the page's sync session. The write is asynchronous; the response
// only acknowledges receipt. Unknown item types are skipped and logged,
// never fatal.
func (a *App) handlePutSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid page ID")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	items, skipped, err := snapshot.Decode(body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if skipped > 0 {
		a.log.Warn().Stringer("page_id", id).Int("skipped", skipped).Msg("snapshot contained unknown item types")
	}

	session := a.session(id)
	if session.Page() == nil {
		if _, _, err := session.OpenPage(r.Context(), id); err != nil {
			a.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	session.OnChange(items)

	a.respondJSON(w, http.StatusAccepted, map[string]any{
		"state":   session.Queue().State().String(),
		"skipped": skipped,
	})
}

// handleSave forces the page's pending operations through immediately,
// bypassing both debounce layers.
func (a *App) handleSave(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid page ID")
		return
	}

	session := a.session(id)
	if session.Page() == nil {
		if _, _, err := session.OpenPage(r.Context(), id); err != nil {
			a.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := session.Save(r.Context()); err != nil {
		a.respondError(w, http.StatusBadGateway, fmt.Sprintf("save failed: %v", err))
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]string{"state": session.Queue().State().String()})
}

func (a *App) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid page ID")
		return
	}
	blocks, err := a.store.ListBlocks(r.Context(), id)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, blocks)
}

// handleDaily returns the daily note for a YYYY-MM-DD date, creating it on
// first access.
func (a *App) handleDaily(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	page, err := a.store.GetPageByDate(ctx, a.workspace.ID, date)
	if errors.Is(err, store.ErrNotFound) {
		page = &models.Page{
			ID:          models.NewPageID(),
			WorkspaceID: a.workspace.ID,
			Title:       date,
			Kind:        models.PageKindDaily,
			Date:        date,
			CreatedBy:   a.user.ID,
		}
		if cerr := a.store.CreatePage(ctx, page); cerr != nil {
			a.respondError(w, http.StatusInternalServerError, cerr.Error())
			return
		}
		err = nil
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	page, items, err := a.session(page.ID).OpenPage(ctx, page.ID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, pageResponse{Page: page, Items: items})
}

func (a *App) handleBacklinks(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	if target == "" {
		a.respondError(w, http.StatusBadRequest, "missing backlink target")
		return
	}
	blocks, err := a.store.ListBacklinks(r.Context(), target)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.respondJSON(w, http.StatusOK, blocks)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// handleChat is a placeholder assistant endpoint. It answers from the
// workspace's todo blocks; a real implementation would call out to a
// language model with the workspace content as context.
func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		a.respondError(w, http.StatusBadRequest, "empty message")
		return
	}

	todos, err := a.store.QueryBlocksByType(r.Context(), a.workspace.ID, models.BlockTypeTodo)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	open := 0
	for _, b := range todos {
		if !b.Checked {
			open++
		}
	}
	a.respondJSON(w, http.StatusOK, chatResponse{
		Reply: fmt.Sprintf("The assistant is not wired up yet. You have %d open todos across the workspace.", open),
	})
}

func (a *App) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	response, err := json.Marshal(payload)
	if err != nil {
		a.log.Error().Err(err).Msg("response encoding failed")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		a.log.Debug().Err(err).Msg("response write failed")
	}
}

func (a *App) respondError(w http.ResponseWriter, status int, message string) {
	a.respondJSON(w, status, map[string]string{"error": message})
}
