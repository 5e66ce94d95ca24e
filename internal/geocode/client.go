// Package geocode はNominatim互換のジオコーディングAPIクライアントを提供する。
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/placebook/internal/metrics"
)

const (
	// DefaultEndpoint はNominatimの検索エンドポイント。
	DefaultEndpoint = "https://nominatim.openstreetmap.org/search"
	// DefaultUserAgent はNominatimの利用規約で必須とされるUser-Agent。
	DefaultUserAgent = "Placebook/1.0"
)

// Candidate はジオコーディング結果の候補を表す。
// Nominatimは緯度経度を文字列で返すため、そのまま保持する。
type Candidate struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Config はClientの設定。
type Config struct {
	Endpoint   string
	UserAgent  string
	RatePerSec float64 // 0以下の場合は無制限
}

// Client はジオコーディングAPIのクライアント。
// 全リクエストでレートリミッターを共有し、Nominatimの利用制限（1req/s）を守る。
type Client struct {
	rc       *resty.Client
	logger   *slog.Logger
	endpoint string
	limiter  *rate.Limiter
	recorder metrics.Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはSSRF防止機能付きのクライアントを渡すこと。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config, recorder metrics.Recorder) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	rc := resty.NewWithClient(httpClient).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		rc:       rc,
		logger:   logger,
		endpoint: cfg.Endpoint,
		limiter:  rate.NewLimiter(limit, 1),
		recorder: recorder,
	}
}

// Search は地名を検索し、候補を最大1件返す。
// 該当なしの場合は空スライスを返す。
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ジオコーディングのレート制限待機が中断されました: %w", err)
	}

	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format": "json",
			"limit":  "1",
			"q":      query,
		}).
		Get(c.endpoint)
	c.recorder.RecordExternalLatency(metrics.APIGeocode, time.Since(start))
	if err != nil {
		c.logger.Error("ジオコーディングAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("query", query),
		)
		return nil, fmt.Errorf("ジオコーディングAPIの呼び出しに失敗しました: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		c.logger.Error("ジオコーディングAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode()),
			slog.String("query", query),
		)
		return nil, fmt.Errorf("ジオコーディングAPIがステータス %d を返しました", resp.StatusCode())
	}

	var candidates []Candidate
	if err := json.Unmarshal(resp.Body(), &candidates); err != nil {
		c.logger.Error("ジオコーディングAPIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return candidates, nil
}
