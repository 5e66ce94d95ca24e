package model

import (
	"strings"
	"time"
)

const (
	// MinRating は評価の最小値。
	MinRating = 0
	// MaxRating は評価の最大値。
	MaxRating = 5
)

// Location はユーザーが記録した場所を表す。
// IDとCreatedAtはドキュメントストアが採番・付与する。
type Location struct {
	ID          string
	Name        string
	Description string
	Rating      int
	CreatedAt   time.Time
	OwnerID     string
	// Coordinates はジオコーディング結果を付与した場合のみ設定される。永続化はしない。
	Coordinates *Coordinates
}

// LocationDraft はユーザーが入力した保存前のロケーション。
// ID、CreatedAt、OwnerIDは含まない。
type LocationDraft struct {
	Name        string
	Description string
	Rating      int
}

// Validate はドラフトの入力値を検証する。
// 名前の空チェックは呼び出し側（フォーム）の責務だが、APIの入口で同じ規則を適用する。
func (d LocationDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if err := ValidateRating(d.Rating); err != nil {
		return err
	}
	return nil
}

// ValidateRating は評価が0〜5の範囲内かを検証する。
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return &ValidationError{Field: "rating", Reason: "must be between 0 and 5"}
	}
	return nil
}

// Coordinates は緯度経度の組を表す。
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Region は地図上の表示領域を表す。
type Region struct {
	Latitude       float64
	Longitude      float64
	LatitudeDelta  float64
	LongitudeDelta float64
}

const (
	// defaultLatitudeDelta, defaultLongitudeDelta は地図の初期表示領域の幅。
	defaultLatitudeDelta  = 0.0922
	defaultLongitudeDelta = 0.0421
	// focusDelta はマーカーにズームした際の表示領域の幅。
	focusDelta = 0.01
)

// DefaultRegion は座標を中心とした初期表示領域を返す。
func DefaultRegion(c Coordinates) Region {
	return Region{
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		LatitudeDelta:  defaultLatitudeDelta,
		LongitudeDelta: defaultLongitudeDelta,
	}
}

// FocusRegion は座標にズームした表示領域を返す。
func FocusRegion(c Coordinates) Region {
	return Region{
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		LatitudeDelta:  focusDelta,
		LongitudeDelta: focusDelta,
	}
}

// Country は首都一覧に表示する国を表す。
type Country struct {
	Code     string // ISO 3166-1 alpha-2
	Name     string
	Capitals []string
	FlagPNG  string
}

// PrimaryCapital は最初の首都名を返す。首都がない国は空文字列を返す。
func (c Country) PrimaryCapital() string {
	if len(c.Capitals) == 0 {
		return ""
	}
	return c.Capitals[0]
}
