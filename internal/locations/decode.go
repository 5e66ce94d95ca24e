package locations

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/placebook/internal/model"
	"github.com/hitoshi/placebook/internal/repository"
)

// ドキュメントストア上のコレクション名とフィールド名。
const (
	Collection       = "locations"
	FieldName        = "name"
	FieldDescription = "description"
	FieldRating      = "rating"
	FieldCreatedAt   = "createdAt"
	FieldOwnerID     = "ownerId"
)

// DecodeError はドキュメントをロケーションに変換できなかったことを表す。
// 1件でも失敗すると読み込み全体が失敗する。
type DecodeError struct {
	DocumentID string
	Field      string
	Reason     string
}

// Error はerrorインターフェースを実装する。
func (e *DecodeError) Error() string {
	return fmt.Sprintf("document %s: field %q: %s", e.DocumentID, e.Field, e.Reason)
}

// DecodeLocation はストアのドキュメントをロケーションに変換する。
// 全フィールドが必須で、型が一致しない場合は*DecodeErrorを返す。
func DecodeLocation(doc repository.Document) (model.Location, error) {
	fail := func(field, reason string) (model.Location, error) {
		return model.Location{}, &DecodeError{DocumentID: doc.ID, Field: field, Reason: reason}
	}

	name, ok := stringField(doc.Data, FieldName)
	if !ok {
		return fail(FieldName, "missing or not a string")
	}
	description, ok := stringField(doc.Data, FieldDescription)
	if !ok {
		return fail(FieldDescription, "missing or not a string")
	}
	ownerID, ok := stringField(doc.Data, FieldOwnerID)
	if !ok {
		return fail(FieldOwnerID, "missing or not a string")
	}

	rating, reason := ratingField(doc.Data[FieldRating])
	if reason != "" {
		return fail(FieldRating, reason)
	}

	createdAt, reason := timeField(doc.Data[FieldCreatedAt])
	if reason != "" {
		return fail(FieldCreatedAt, reason)
	}

	return model.Location{
		ID:          doc.ID,
		Name:        name,
		Description: description,
		Rating:      rating,
		CreatedAt:   createdAt,
		OwnerID:     ownerID,
	}, nil
}

// decodeAll はドキュメントを順序を保ったまま変換する。
func decodeAll(docs []repository.Document) ([]model.Location, error) {
	locs := make([]model.Location, 0, len(docs))
	for _, doc := range docs {
		loc, err := DecodeLocation(doc)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

// EncodeDraft はドラフトを挿入用のフィールドに変換する。
// createdAtはストアの時刻で置き換えられる。
func EncodeDraft(draft model.LocationDraft, ownerID string) repository.Fields {
	return repository.Fields{
		FieldName:        draft.Name,
		FieldDescription: draft.Description,
		FieldRating:      draft.Rating,
		FieldOwnerID:     ownerID,
		FieldCreatedAt:   repository.ServerTimestamp,
	}
}

func stringField(data map[string]any, field string) (string, bool) {
	s, ok := data[field].(string)
	return s, ok
}

func ratingField(v any) (int, string) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, "missing"
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, "not a number"
		}
		f = parsed
	default:
		return 0, fmt.Sprintf("unexpected type %T", v)
	}

	if f != math.Trunc(f) {
		return 0, "not an integer"
	}
	if f < model.MinRating || f > model.MaxRating {
		return 0, "out of range"
	}
	return int(f), ""
}

func timeField(v any) (time.Time, string) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, "missing"
	case time.Time:
		return t, ""
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, "malformed timestamp"
		}
		return parsed, ""
	default:
		return time.Time{}, fmt.Sprintf("unexpected type %T", v)
	}
}
