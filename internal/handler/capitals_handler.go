package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/placebook/internal/capitals"
	"github.com/hitoshi/placebook/internal/middleware"
	"github.com/hitoshi/placebook/internal/model"
)

// capitalNotAvailable は首都がない国に表示する文字列。
const capitalNotAvailable = "N/A"

// CapitalsServiceInterface は首都一覧ハンドラーが必要とするサービスインターフェース。
type CapitalsServiceInterface interface {
	ListCountries(ctx context.Context) ([]model.Country, error)
	FlagThumbnail(ctx context.Context, code string, width int) ([]byte, error)
}

// CapitalsHandler は国と首都の一覧のHTTPハンドラー。
type CapitalsHandler struct {
	service CapitalsServiceInterface
}

// NewCapitalsHandler はCapitalsHandlerを生成する。
func NewCapitalsHandler(service CapitalsServiceInterface) *CapitalsHandler {
	return &CapitalsHandler{service: service}
}

type countryResponse struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Capital string `json:"capital"`
	FlagURL string `json:"flag_url"`
}

type countryListResponse struct {
	Countries []countryResponse `json:"countries"`
}

// List は国の一覧を返す。qを指定すると国名または首都名で絞り込む。
// GET /api/capitals?q=
func (h *CapitalsHandler) List(w http.ResponseWriter, r *http.Request) {
	countries, err := h.service.ListCountries(r.Context())
	if err != nil {
		slog.Error("failed to list countries", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewCapitalsUnavailableError())
		return
	}

	filtered := capitals.Filter(countries, r.URL.Query().Get("q"))
	resp := countryListResponse{Countries: make([]countryResponse, len(filtered))}
	for i, c := range filtered {
		capital := c.PrimaryCapital()
		if capital == "" {
			capital = capitalNotAvailable
		}
		resp.Countries[i] = countryResponse{
			Code:    c.Code,
			Name:    c.Name,
			Capital: capital,
			FlagURL: c.FlagPNG,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Flag は国旗のサムネイル画像を返す。wで幅を指定する。
// GET /api/capitals/{code}/flag?w=
func (h *CapitalsHandler) Flag(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if err := capitals.ValidateCountryCode(code); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCountryCodeError(code))
		return
	}

	width := capitals.DefaultFlagWidth
	if raw := r.URL.Query().Get("w"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > capitals.MaxFlagWidth {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidInputError("w must be between 1 and "+strconv.Itoa(capitals.MaxFlagWidth)))
			return
		}
		width = n
	}

	img, err := h.service.FlagThumbnail(r.Context(), code, width)
	if err != nil {
		if errors.Is(err, capitals.ErrFlagNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewInvalidCountryCodeError(code))
			return
		}
		slog.Error("failed to fetch flag", slog.String("code", code), slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewCapitalsUnavailableError())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}
