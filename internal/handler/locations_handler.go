package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/placebook/internal/locations"
	"github.com/hitoshi/placebook/internal/middleware"
	"github.com/hitoshi/placebook/internal/model"
)

// defaultMarkerTitle は名前のないロケーションのマーカーに表示するタイトル。
const defaultMarkerTitle = "選択した場所"

// settleTimeout はワークスペースが初回の読み込みを終えるまで待つ最大時間。
const settleTimeout = 5 * time.Second

// WorkspaceOpener はセッションIDに対応するワークスペースを返す。
// *locations.Hub がこれを満たす。
type WorkspaceOpener interface {
	Open(sessionID string) (*locations.Manager, error)
}

// Sanitizer はユーザー入力のテキストからマークアップを除去する。
type Sanitizer interface {
	Sanitize(text string) string
}

// LocationsHandler はロケーション一覧・追加・地図表示のHTTPハンドラー。
type LocationsHandler struct {
	workspaces WorkspaceOpener
	sanitizer  Sanitizer
}

// NewLocationsHandler はLocationsHandlerを生成する。
func NewLocationsHandler(workspaces WorkspaceOpener, sanitizer Sanitizer) *LocationsHandler {
	return &LocationsHandler{
		workspaces: workspaces,
		sanitizer:  sanitizer,
	}
}

type locationResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Rating      int       `json:"rating"`
	CreatedAt   time.Time `json:"created_at"`
	OwnerID     string    `json:"owner_id"`
}

type stateResponse struct {
	Status    string             `json:"status"`
	Loading   bool               `json:"loading"`
	Error     string             `json:"error,omitempty"`
	Locations []locationResponse `json:"locations"`
}

type createLocationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rating      *int   `json:"rating"`
}

type regionResponse struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitude_delta"`
	LongitudeDelta float64 `json:"longitude_delta"`
}

type mapResponse struct {
	Title         string         `json:"title"`
	Region        regionResponse `json:"region"`
	InitialRegion regionResponse `json:"initial_region"`
}

type geocodeResponse struct {
	Found     bool    `json:"found"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

func toLocationResponse(loc model.Location) locationResponse {
	return locationResponse{
		ID:          loc.ID,
		Name:        loc.Name,
		Description: loc.Description,
		Rating:      loc.Rating,
		CreatedAt:   loc.CreatedAt,
		OwnerID:     loc.OwnerID,
	}
}

func toStateResponse(s locations.State) stateResponse {
	locs := make([]locationResponse, len(s.Locations))
	for i, loc := range s.Locations {
		locs[i] = toLocationResponse(loc)
	}
	return stateResponse{
		Status:    string(s.Status),
		Loading:   s.Loading,
		Error:     s.Error,
		Locations: locs,
	}
}

func toRegionResponse(r model.Region) regionResponse {
	return regionResponse{
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		LatitudeDelta:  r.LatitudeDelta,
		LongitudeDelta: r.LongitudeDelta,
	}
}

// List は現在のセッションのロケーション一覧を返す。
// GET /api/locations
func (h *LocationsHandler) List(w http.ResponseWriter, r *http.Request) {
	m, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(awaitSettled(r.Context(), m)))
}

// Create はロケーションを追加する。
// POST /api/locations
func (h *LocationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("invalid request body"))
		return
	}
	if req.Rating == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("rating is required"))
		return
	}

	draft := model.LocationDraft{
		Name:        h.sanitizer.Sanitize(req.Name),
		Description: h.sanitizer.Sanitize(req.Description),
		Rating:      *req.Rating,
	}
	if err := draft.Validate(); err != nil {
		handleServiceError(w, err)
		return
	}

	m, ok := h.workspace(w, r)
	if !ok {
		return
	}
	awaitSettled(r.Context(), m)

	loc, err := m.Add(r.Context(), draft)
	if err != nil {
		h.writeManagerError(w, err, locations.MessageAddFailed)
		return
	}

	writeJSON(w, http.StatusCreated, toLocationResponse(loc))
}

// Reload はロケーション一覧を再読み込みする。
// POST /api/locations/reload
func (h *LocationsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	m, ok := h.workspace(w, r)
	if !ok {
		return
	}
	awaitSettled(r.Context(), m)

	if err := m.Reload(r.Context()); err != nil {
		h.writeManagerError(w, err, locations.MessageLoadFailed)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(m.Snapshot()))
}

// Map はロケーションを地図に表示するための表示領域を返す。
// GET /api/locations/{id}/map
func (h *LocationsHandler) Map(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, ok := h.workspace(w, r)
	if !ok {
		return
	}
	awaitSettled(r.Context(), m)

	loc, found := m.Location(id)
	if !found {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewLocationNotFoundError(id))
		return
	}

	coords, found := m.Geocode(r.Context(), loc.Name)
	if !found {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewPlaceNotFoundError(loc.Name))
		return
	}

	title := loc.Name
	if title == "" {
		title = defaultMarkerTitle
	}
	writeJSON(w, http.StatusOK, mapResponse{
		Title:         title,
		Region:        toRegionResponse(model.FocusRegion(coords)),
		InitialRegion: toRegionResponse(model.DefaultRegion(coords)),
	})
}

// Geocode は場所の名前を座標に変換する。見つからない場合もエラーにはしない。
// GET /api/geocode?q=
func (h *LocationsHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	m, ok := h.workspace(w, r)
	if !ok {
		return
	}

	coords, found := m.Geocode(r.Context(), r.URL.Query().Get("q"))
	resp := geocodeResponse{Found: found}
	if found {
		resp.Latitude = coords.Latitude
		resp.Longitude = coords.Longitude
	}
	writeJSON(w, http.StatusOK, resp)
}

// workspace はリクエストのセッションに対応するワークスペースを開く。
// 失敗した場合はエラーレスポンスを書き込み、falseを返す。
func (h *LocationsHandler) workspace(w http.ResponseWriter, r *http.Request) (*locations.Manager, bool) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	m, err := h.workspaces.Open(sessionID)
	if err != nil {
		slog.Error("failed to open workspace", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	if err := m.Resolve(r.Context()); err != nil {
		slog.Error("failed to resolve workspace user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewRemoteFailureError(locations.MessageLoadFailed))
		return nil, false
	}
	return m, true
}

// writeManagerError はManagerの操作エラーをレスポンスに変換する。
// ストアの失敗はManagerの状態と同じユーザー向けメッセージで返す。
func (h *LocationsHandler) writeManagerError(w http.ResponseWriter, err error, message string) {
	var validationErr *model.ValidationError
	switch {
	case errors.Is(err, model.ErrUnauthenticated), errors.Is(err, locations.ErrSessionChanged),
		errors.Is(err, locations.ErrWorkspaceClosed):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
	case errors.As(err, &validationErr):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError(validationErr.Error()))
	default:
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewRemoteFailureError(message))
	}
}

// awaitSettled はワークスペースが初回の読み込みを終えるまで待ち、その時点の状態を返す。
// セッション検証済みのリクエストから呼ぶため、READYかERRORになるのを待つ。
func awaitSettled(ctx context.Context, m *locations.Manager) locations.State {
	states, stop := m.Watch()
	defer stop()

	timer := time.NewTimer(settleTimeout)
	defer timer.Stop()

	for {
		select {
		case s := <-states:
			if s.Status == locations.StatusReady || s.Status == locations.StatusError {
				return s
			}
		case <-m.Done():
			return m.Snapshot()
		case <-timer.C:
			return m.Snapshot()
		case <-ctx.Done():
			return m.Snapshot()
		}
	}
}
