// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	ResultSuccess         = "success"
	ResultFailure         = "failure"
	ResultUnauthenticated = "unauthenticated"
	ResultFound           = "found"
	ResultNotFound        = "not_found"
	ResultError           = "error"
)

// 外部APIラベルの値
const (
	APIGeocode  = "geocode"
	APICapitals = "capitals"
	APIFlag     = "flag"
)

// Recorder はメトリクス記録のインターフェース。
// ワークスペース、外部APIクライアント、HTTPミドルウェアから利用する。
type Recorder interface {
	RecordLocationsLoaded(count int)
	RecordLoadFailure()
	RecordLocationAdd(result string)
	RecordGeocode(result string)
	RecordExternalLatency(api string, duration time.Duration)
	SetActiveWorkspaces(n int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loads            prometheus.Counter
	loadFailures     prometheus.Counter
	locationsLoaded  prometheus.Histogram
	adds             *prometheus.CounterVec
	geocodes         *prometheus.CounterVec
	externalLatency  *prometheus.HistogramVec
	activeWorkspaces prometheus.Gauge
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "placebook_location_loads_total",
			Help: "ロケーション一覧の読み込み成功数",
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "placebook_location_load_failures_total",
			Help: "ロケーション一覧の読み込み失敗数",
		}),
		locationsLoaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "placebook_locations_per_load",
			Help:    "1回の読み込みで取得したロケーション数",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
		adds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placebook_location_adds_total",
			Help: "ロケーション追加の結果別件数",
		}, []string{"result"}),
		geocodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placebook_geocode_lookups_total",
			Help: "ジオコーディングの結果別件数",
		}, []string{"result"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "placebook_external_request_seconds",
			Help:    "外部APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"api"}),
		activeWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "placebook_active_workspaces",
			Help: "稼働中のワークスペース数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placebook_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loads,
		c.loadFailures,
		c.locationsLoaded,
		c.adds,
		c.geocodes,
		c.externalLatency,
		c.activeWorkspaces,
		c.httpStatus,
	)

	return c
}

// RecordLocationsLoaded は読み込み成功と取得件数を記録する。
func (c *Collector) RecordLocationsLoaded(count int) {
	c.loads.Inc()
	c.locationsLoaded.Observe(float64(count))
}

// RecordLoadFailure は読み込み失敗を記録する。
func (c *Collector) RecordLoadFailure() {
	c.loadFailures.Inc()
}

// RecordLocationAdd はロケーション追加の結果を記録する。
func (c *Collector) RecordLocationAdd(result string) {
	c.adds.WithLabelValues(result).Inc()
}

// RecordGeocode はジオコーディングの結果を記録する。
func (c *Collector) RecordGeocode(result string) {
	c.geocodes.WithLabelValues(result).Inc()
}

// RecordExternalLatency は外部APIのレイテンシを記録する。
func (c *Collector) RecordExternalLatency(api string, duration time.Duration) {
	c.externalLatency.WithLabelValues(api).Observe(duration.Seconds())
}

// SetActiveWorkspaces は稼働中のワークスペース数を設定する。
func (c *Collector) SetActiveWorkspaces(n int) {
	c.activeWorkspaces.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないRecorder。メトリクスを使わないテストや構成で使う。
type Nop struct{}

func (Nop) RecordLocationsLoaded(int) {}
func (Nop) RecordLoadFailure() {}
func (Nop) RecordLocationAdd(string) {}
func (Nop) RecordGeocode(string) {}
func (Nop) RecordExternalLatency(string, time.Duration) {}
func (Nop) SetActiveWorkspaces(int) {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
