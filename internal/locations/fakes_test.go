package locations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/placebook/internal/geocode"
	"github.com/hitoshi/placebook/internal/model"
	"github.com/hitoshi/placebook/internal/repository"
)

// fakeSession はテスト用のSessionSource。
// failuresを設定すると、その回数だけCurrentUserがerrLookupを返す。
type fakeSession struct {
	mu           sync.Mutex
	user         *model.User
	err          error
	failures     int
	calls        atomic.Int32
	ch           chan model.SessionChange
	subscribed   atomic.Int32
	unsubscribed atomic.Int32
}

func newFakeSession(user *model.User) *fakeSession {
	return &fakeSession{user: user, ch: make(chan model.SessionChange, 8)}
}

var errLookup = errors.New("session lookup failed")

func (s *fakeSession) CurrentUser(_ context.Context) (*model.User, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errLookup
	}
	return s.user, s.err
}

// expire は通知なしにセッションを失効させる。
func (s *fakeSession) expire() {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
}

func (s *fakeSession) Subscribe() (<-chan model.SessionChange, func()) {
	s.subscribed.Add(1)
	return s.ch, func() { s.unsubscribed.Add(1) }
}

// emit は現在のユーザーを更新して遷移を通知する。
func (s *fakeSession) emit(user *model.User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	s.ch <- model.SessionChange{SessionID: "sess", User: user}
}

// memStore はテスト用のインメモリDocumentStore。
// queryFn、insertFnを設定すると既定の動作を置き換える。
type memStore struct {
	mu      sync.Mutex
	docs    map[string][]repository.Document
	nextID  int
	inserts int
	queries int

	queryFn  func(ctx context.Context, collection, field, value string) ([]repository.Document, error)
	insertFn func(ctx context.Context, collection string, fields repository.Fields) (string, error)
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]repository.Document)}
}

func (s *memStore) put(collection string, doc repository.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[collection] = append(s.docs[collection], doc)
}

func (s *memStore) Query(ctx context.Context, collection, field, value string) ([]repository.Document, error) {
	s.mu.Lock()
	s.queries++
	fn := s.queryFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, collection, field, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := []repository.Document{}
	for _, doc := range s.docs[collection] {
		if v, ok := doc.Data[field].(string); ok && v == value {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *memStore) Insert(ctx context.Context, collection string, fields repository.Fields) (string, error) {
	s.mu.Lock()
	s.inserts++
	fn := s.insertFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, collection, fields)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("doc-%d", s.nextID)
	data := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == repository.ServerTimestamp {
			v = time.Now().UTC().Format(time.RFC3339Nano)
		}
		if n, ok := v.(int); ok {
			v = float64(n)
		}
		data[k] = v
	}
	s.docs[collection] = append(s.docs[collection], repository.Document{ID: id, Data: data})
	return id, nil
}

func (s *memStore) DeleteWhere(_ context.Context, collection, field, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.docs[collection][:0]
	var n int64
	for _, doc := range s.docs[collection] {
		if v, ok := doc.Data[field].(string); ok && v == value {
			n++
			continue
		}
		kept = append(kept, doc)
	}
	s.docs[collection] = kept
	return n, nil
}

func (s *memStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// fakeGeocoder はテスト用のGeocoder。
type fakeGeocoder struct {
	searchFn func(ctx context.Context, query string) ([]geocode.Candidate, error)
	calls    atomic.Int32
}

func (g *fakeGeocoder) Search(ctx context.Context, query string) ([]geocode.Candidate, error) {
	g.calls.Add(1)
	return g.searchFn(ctx, query)
}

// locationDoc はストアに保存された形式のロケーションドキュメントを生成する。
func locationDoc(id, owner, name string, rating float64) repository.Document {
	return repository.Document{
		ID: id,
		Data: map[string]any{
			FieldName:        name,
			FieldDescription: name + " description",
			FieldRating:      rating,
			FieldOwnerID:     owner,
			FieldCreatedAt:   "2024-05-01T10:00:00Z",
		},
	}
}
