// Package capitals は国と首都の一覧APIクライアントを提供する。
// 一覧はキャッシュせず、要求のたびに取得する。
package capitals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nfnt/resize"

	"github.com/hitoshi/placebook/internal/metrics"
	"github.com/hitoshi/placebook/internal/model"
)

const (
	// DefaultEndpoint はrestcountriesの全件取得エンドポイント。
	DefaultEndpoint = "https://restcountries.com/v3.1/all"
	// DefaultFlagEndpoint は国旗PNGの配信元。
	DefaultFlagEndpoint = "https://flagcdn.com"

	// listFields は一覧取得で要求するフィールド。
	listFields = "name,capital,flags,cca2"

	// MaxFlagWidth は国旗サムネイルの最大幅。配信元の画像幅と同じ。
	MaxFlagWidth = 320
	// DefaultFlagWidth は幅の指定がない場合のサムネイル幅。
	DefaultFlagWidth = 160

	// maxFlagBytes は国旗画像のレスポンスサイズ上限。超過分は切り捨てられデコードに失敗する。
	maxFlagBytes = 1 << 20
)

var (
	// ErrInvalidCountryCode は国コードがISO 3166-1 alpha-2形式でない場合のエラー。
	ErrInvalidCountryCode = errors.New("invalid country code")
	// ErrFlagNotFound は国旗画像が配信元に存在しない場合のエラー。
	ErrFlagNotFound = errors.New("flag not found")
)

var countryCodePattern = regexp.MustCompile(`^[A-Za-z]{2}$`)

// countryResponse はrestcountries v3.1の国情報のうち利用するフィールド。
type countryResponse struct {
	Name struct {
		Common string `json:"common"`
	} `json:"name"`
	Capital []string `json:"capital"`
	Flags   struct {
		PNG string `json:"png"`
	} `json:"flags"`
	CCA2 string `json:"cca2"`
}

// Config はClientの設定。
type Config struct {
	Endpoint     string
	FlagEndpoint string
	UserAgent    string
}

// Client は首都一覧APIと国旗画像のクライアント。
type Client struct {
	rc           *resty.Client
	logger       *slog.Logger
	endpoint     string
	flagEndpoint string
	recorder     metrics.Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config, recorder metrics.Recorder) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.FlagEndpoint == "" {
		cfg.FlagEndpoint = DefaultFlagEndpoint
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	rc := resty.NewWithClient(httpClient)
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		rc:           rc,
		logger:       logger,
		endpoint:     cfg.Endpoint,
		flagEndpoint: strings.TrimRight(cfg.FlagEndpoint, "/"),
		recorder:     recorder,
	}
}

// ListCountries は全ての国を取得する。順序はAPIの返却順のまま。
func (c *Client) ListCountries(ctx context.Context) ([]model.Country, error) {
	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("fields", listFields).
		Get(c.endpoint)
	c.recorder.RecordExternalLatency(metrics.APICapitals, time.Since(start))
	if err != nil {
		c.logger.Error("首都一覧APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("首都一覧APIの呼び出しに失敗しました: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Error("首都一覧APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode()),
		)
		return nil, fmt.Errorf("首都一覧APIがステータス %d を返しました", resp.StatusCode())
	}

	var raw []countryResponse
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	countries := make([]model.Country, 0, len(raw))
	for _, r := range raw {
		countries = append(countries, model.Country{
			Code:     strings.ToUpper(r.CCA2),
			Name:     r.Name.Common,
			Capitals: r.Capital,
			FlagPNG:  r.Flags.PNG,
		})
	}
	return countries, nil
}

// Filter は国名または最初の首都名にqueryを含む国を返す。
// 大文字小文字は区別しない。queryが空の場合は全件を返す。
func Filter(countries []model.Country, query string) []model.Country {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return countries
	}

	matched := make([]model.Country, 0, len(countries))
	for _, country := range countries {
		if strings.Contains(strings.ToLower(country.Name), q) ||
			strings.Contains(strings.ToLower(country.PrimaryCapital()), q) {
			matched = append(matched, country)
		}
	}
	return matched
}

// ValidateCountryCode は国コードが英字2文字かを検証する。
func ValidateCountryCode(code string) error {
	if !countryCodePattern.MatchString(code) {
		return ErrInvalidCountryCode
	}
	return nil
}

// FlagThumbnail は国旗画像を取得し、指定幅に縮小したPNGを返す。
// widthが0以下の場合はDefaultFlagWidth、MaxFlagWidthを超える場合はMaxFlagWidthを使う。
// 縦横比は維持する。
func (c *Client) FlagThumbnail(ctx context.Context, code string, width int) ([]byte, error) {
	if err := ValidateCountryCode(code); err != nil {
		return nil, err
	}
	switch {
	case width <= 0:
		width = DefaultFlagWidth
	case width > MaxFlagWidth:
		width = MaxFlagWidth
	}

	flagURL := fmt.Sprintf("%s/w%d/%s.png", c.flagEndpoint, MaxFlagWidth, strings.ToLower(code))

	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(flagURL)
	c.recorder.RecordExternalLatency(metrics.APIFlag, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("国旗画像の取得に失敗しました: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrFlagNotFound
	default:
		c.logger.Warn("国旗画像の配信元がエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode()),
			slog.String("code", code),
		)
		return nil, fmt.Errorf("国旗画像の配信元がステータス %d を返しました", resp.StatusCode())
	}

	img, err := png.Decode(io.LimitReader(body, maxFlagBytes))
	if err != nil {
		return nil, fmt.Errorf("国旗画像のデコードに失敗しました: %w", err)
	}

	thumb := resize.Resize(uint(width), 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("国旗画像のエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
