package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
)

const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

type createBookmarkRequest struct {
	URL   string `json:"url" validate:"required,url,max=2048"`
	Title string `json:"title" validate:"required,max=512"`
}

func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Logger, http.StatusOK, d.Bookmarks.Snapshot())
	}
}

// CreateBookmark validates the body and adds it optimistically. It answers
// 202 with the view that already shows the placeholder.
func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Bookmarks.Snapshot().Identity == nil {
			writeError(w, d.Logger, http.StatusUnauthorized, "not signed in")
			return
		}

		var req createBookmarkRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, d.Logger, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		req.Title = strings.TrimSpace(req.Title)

		if err := validate.Struct(req); err != nil {
			writeJSON(w, d.Logger, http.StatusUnprocessableEntity, errorResponse{
				Error:  "validation failed",
				Fields: fieldErrors(err),
			})
			return
		}

		ok, err := d.Bookmarks.Add(r.Context(), req.URL, req.Title)
		if err != nil {
			d.Logger.Error("add bookmark failed", logger.Error(err))
			writeError(w, d.Logger, http.StatusServiceUnavailable, "bookmark list unavailable")
			return
		}
		if !ok {
			// signed out between the check and the add
			writeError(w, d.Logger, http.StatusConflict, "bookmark not added")
			return
		}
		writeJSON(w, d.Logger, http.StatusAccepted, d.Bookmarks.Snapshot())
	}
}

func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Bookmarks.Snapshot().Identity == nil {
			writeError(w, d.Logger, http.StatusUnauthorized, "not signed in")
			return
		}

		ok, err := d.Bookmarks.Remove(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			d.Logger.Error("remove bookmark failed", logger.Error(err))
			writeError(w, d.Logger, http.StatusServiceUnavailable, "bookmark list unavailable")
			return
		}
		if !ok {
			writeError(w, d.Logger, http.StatusNotFound, "bookmark not found")
			return
		}
		writeJSON(w, d.Logger, http.StatusAccepted, d.Bookmarks.Snapshot())
	}
}

// ImportBookmarks adds the configured homepage file's bookmarks.
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Importer == nil {
			writeError(w, d.Logger, http.StatusNotFound, "no import file configured")
			return
		}
		res, err := d.Importer.Import(r.Context())
		switch {
		case errors.Is(err, homepage.ErrNotSignedIn):
			writeError(w, d.Logger, http.StatusUnauthorized, "not signed in")
		case err != nil:
			d.Logger.Error("import failed", logger.Error(err))
			writeError(w, d.Logger, http.StatusInternalServerError, "import failed")
		default:
			writeJSON(w, d.Logger, http.StatusOK, res)
		}
	}
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[name] = "is required"
		case "url":
			out[name] = "must be an absolute URL"
		case "max":
			out[name] = "is too long"
		default:
			out[name] = "is invalid"
		}
	}
	return out
}
