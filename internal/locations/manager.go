// Package locations はセッションごとのロケーション一覧（ワークスペース）を管理する。
//
// Managerは1つのクライアントセッションに対応し、認証状態の遷移を購読して
// ロケーション一覧の読み込み・追加・ジオコーディングを行う。
// Hubはセッションごとのワークスペースを生成・破棄する。
package locations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/placebook/internal/geocode"
	"github.com/hitoshi/placebook/internal/metrics"
	"github.com/hitoshi/placebook/internal/model"
	"github.com/hitoshi/placebook/internal/repository"
)

// ユーザー向けのエラーメッセージ。State.Errorに設定される。
const (
	MessageLoadFailed = "ロケーションを読み込めませんでした。しばらくしてから再度お試しください。"
	MessageAddFailed  = "ロケーションを追加できませんでした。しばらくしてから再度お試しください。"
)

var (
	// ErrAlreadyRunning はRunを2回以上呼び出した場合のエラー。
	ErrAlreadyRunning = errors.New("workspace is already running")
	// ErrSessionChanged は処理中にセッションが切り替わり、結果を反映しなかった場合のエラー。
	ErrSessionChanged = errors.New("session changed during operation")
	// ErrWorkspaceClosed は退会などで停止したワークスペースを操作した場合のエラー。
	ErrWorkspaceClosed = errors.New("workspace is closed")
)

// Status はワークスペースの状態を表す。
type Status string

const (
	StatusAnonymous Status = "anonymous"
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
)

// State はワークスペースの観測可能な状態のスナップショット。
type State struct {
	Status    Status
	UserID    string
	Locations []model.Location
	Loading   bool
	Error     string
}

// SessionSource は1つのセッションの認証状態を提供する。
// *auth.Scope がこれを満たす。
type SessionSource interface {
	CurrentUser(ctx context.Context) (*model.User, error)
	Subscribe() (<-chan model.SessionChange, func())
}

// Geocoder は場所の名前から座標の候補を検索する。
type Geocoder interface {
	Search(ctx context.Context, query string) ([]geocode.Candidate, error)
}

// Manager は1セッション分のロケーション一覧を保持する。
// 読み込みと追加はopMuで直列化し、セッション遷移ごとにepochを進めて
// 古いセッションの結果を反映しないようにする。
type Manager struct {
	session  SessionSource
	store    repository.DocumentStore
	geocoder Geocoder
	logger   *slog.Logger
	recorder metrics.Recorder
	now      func() time.Time

	opMu      sync.Mutex
	resolveMu sync.Mutex

	mu    sync.RWMutex
	state State
	user  *model.User
	epoch uint64
	// unresolved は現在のユーザーがまだ確定していないことを示す。
	// 生成直後と、取得に失敗して未認証として扱っている間はtrue。
	unresolved bool
	// halted はhalt後にtrueになり、以降の読み込みと追加を拒否する。
	halted   bool
	watchers map[chan State]struct{}

	running    atomic.Bool
	done       chan struct{}
	lastActive atomic.Int64
}

// NewManager はManagerを生成する。Runを呼ぶまでセッションは購読しない。
func NewManager(
	session SessionSource,
	store repository.DocumentStore,
	geocoder Geocoder,
	logger *slog.Logger,
	recorder metrics.Recorder,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	m := &Manager{
		session:  session,
		store:    store,
		geocoder: geocoder,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		state: State{
			Status:    StatusAnonymous,
			Locations: []model.Location{},
		},
		unresolved: true,
		watchers:   make(map[chan State]struct{}),
		done:       make(chan struct{}),
	}
	m.Touch()
	return m
}

// Run はセッションの遷移を購読し、ctxが終了するまで状態を追従する。
// 購読直後に現在のユーザーを取得して初回の遷移として扱う。Resolveで取得済みの場合は省略する。
// ユーザーが存在する場合はそのユーザーのロケーションを読み込む。
// 1つのManagerにつき1回だけ呼び出せる。
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)

	changes, unsubscribe := m.session.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	defer wg.Wait()

	m.resolveMu.Lock()
	m.mu.RLock()
	pending := m.unresolved
	m.mu.RUnlock()
	if pending {
		user, err := m.session.CurrentUser(ctx)
		if err != nil {
			// 次のResolveで取得し直す
			m.logger.Warn("failed to resolve current user, treating session as anonymous",
				slog.String("error", err.Error()),
			)
			m.mu.Lock()
			m.applyLocked(nil)
			m.unresolved = true
			m.mu.Unlock()
		} else {
			m.observe(ctx, user, &wg)
		}
	}
	m.resolveMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-changes:
			m.observe(ctx, change.User, &wg)
		}
	}
}

// Done はRunが終了したときに閉じられるチャネルを返す。
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// observe はセッション遷移を状態に反映し、ユーザーがいれば読み込みを開始する。
func (m *Manager) observe(ctx context.Context, user *model.User, wg *sync.WaitGroup) {
	m.mu.Lock()
	userID := m.applyLocked(user)
	m.mu.Unlock()
	if userID == "" {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Load(ctx, userID); err != nil && !errors.Is(err, ErrSessionChanged) {
			m.logger.Debug("initial load did not complete",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// applyLocked はセッション遷移を状態に反映し、読み込むべきユーザーIDを返す。
// 未認証への遷移では空文字列を返す。mu保持中に呼ぶこと。
func (m *Manager) applyLocked(user *model.User) string {
	m.epoch++
	m.unresolved = false
	if user == nil {
		// セッション喪失時は一覧を空にする。LoadingとErrorは変更しない。
		if m.user != nil {
			m.logger.Info("session ended, clearing workspace",
				slog.String("user_id", m.user.ID),
			)
		}
		m.user = nil
		m.state.UserID = ""
		m.state.Status = StatusAnonymous
		m.state.Locations = []model.Location{}
		m.notifyLocked()
		return ""
	}

	if m.state.UserID != user.ID {
		m.state.Locations = []model.Location{}
	}
	m.user = user
	m.state.UserID = user.ID
	m.state.Status = StatusLoading
	m.notifyLocked()
	return user.ID
}

// Resolve は現在のユーザーが確定していない場合に取得し直す。
// Runの初回取得に失敗したワークスペースもこれで回復する。
// ユーザーが見つかった場合はその一覧を読み込んでから戻る。確定済みの場合は何もしない。
func (m *Manager) Resolve(ctx context.Context) error {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	m.mu.RLock()
	pending := m.unresolved
	m.mu.RUnlock()
	if !pending {
		return nil
	}

	user, err := m.session.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current user: %w", err)
	}

	m.mu.Lock()
	if !m.unresolved {
		// 取得中にセッション遷移を受け取った
		m.mu.Unlock()
		return nil
	}
	userID := m.applyLocked(user)
	m.mu.Unlock()
	if userID == "" {
		return nil
	}

	m.logger.Info("current user resolved", slog.String("user_id", userID))
	if err := m.Load(ctx, userID); err != nil && !errors.Is(err, ErrSessionChanged) {
		// 失敗は状態に反映済み
		m.logger.Debug("load after resolve did not complete",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Revalidate は紐づいているユーザーのセッションがまだ有効かを確認する。
// セッションが失効または削除されていた場合は未認証状態に遷移してtrueを返す。
// 確認中に別の遷移があった場合は何もしない。
func (m *Manager) Revalidate(ctx context.Context) (bool, error) {
	m.mu.RLock()
	user := m.user
	epoch := m.epoch
	m.mu.RUnlock()
	if user == nil {
		return false, nil
	}

	current, err := m.session.CurrentUser(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to revalidate session: %w", err)
	}
	if current != nil && current.ID == user.ID {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return false, nil
	}
	m.applyLocked(nil)
	return true, nil
}

// Load はuserIDが所有するロケーションをストアから読み込み、一覧を置き換える。
// 失敗した場合は一覧を変更せずにエラーメッセージを設定する。
// 読み込み中にセッションが切り替わった場合は結果を捨ててErrSessionChangedを返す。
func (m *Manager) Load(ctx context.Context, userID string) error {
	if userID == "" {
		return &model.ValidationError{Field: "userId", Reason: "required"}
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.Touch()

	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return ErrWorkspaceClosed
	}
	if m.user == nil {
		m.mu.Unlock()
		return fmt.Errorf("load locations: %w", model.ErrUnauthenticated)
	}
	if m.user.ID != userID {
		m.mu.Unlock()
		return &model.ValidationError{Field: "userId", Reason: "does not match the current session"}
	}
	epoch := m.epoch
	m.state.Loading = true
	m.state.Error = ""
	m.state.Status = StatusLoading
	m.notifyLocked()
	m.mu.Unlock()

	docs, err := m.store.Query(ctx, Collection, FieldOwnerID, userID)
	var locs []model.Location
	if err == nil {
		locs, err = decodeAll(docs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.notifyLocked()
	m.state.Loading = false

	if epoch != m.epoch {
		return ErrSessionChanged
	}

	if err != nil {
		m.state.Error = MessageLoadFailed
		m.state.Status = StatusError
		m.recorder.RecordLoadFailure()
		m.logger.Error("failed to load locations",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to load locations: %w", err)
	}

	m.state.Locations = locs
	m.state.Status = StatusReady
	m.recorder.RecordLocationsLoaded(len(locs))
	m.logger.Debug("locations loaded",
		slog.String("user_id", userID),
		slog.Int("count", len(locs)),
	)
	return nil
}

// Reload は現在のユーザーのロケーションを再読み込みする。
func (m *Manager) Reload(ctx context.Context) error {
	if err := m.Resolve(ctx); err != nil {
		return fmt.Errorf("reload locations: %w", err)
	}
	m.mu.RLock()
	user := m.user
	m.mu.RUnlock()
	if user == nil {
		return fmt.Errorf("reload locations: %w", model.ErrUnauthenticated)
	}
	return m.Load(ctx, user.ID)
}

// Add はドラフトを現在のユーザーのロケーションとしてストアに保存し、一覧の末尾に追加する。
// 作成日時はストア側で付与されるが、返却値と一覧には端末の現在時刻を設定する。
// 未認証の場合は評価の検証より先に判定し、ストアに書き込まずエラーメッセージを設定して失敗を返す。
func (m *Manager) Add(ctx context.Context, draft model.LocationDraft) (model.Location, error) {
	if err := m.Resolve(ctx); err != nil {
		return model.Location{}, fmt.Errorf("add location: %w", err)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.Touch()

	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return model.Location{}, ErrWorkspaceClosed
	}
	user := m.user
	epoch := m.epoch
	if user == nil {
		m.state.Error = MessageAddFailed
		m.notifyLocked()
		m.mu.Unlock()
		m.recorder.RecordLocationAdd(metrics.ResultUnauthenticated)
		return model.Location{}, fmt.Errorf("add location: %w", model.ErrUnauthenticated)
	}
	if err := model.ValidateRating(draft.Rating); err != nil {
		m.mu.Unlock()
		return model.Location{}, err
	}
	m.state.Loading = true
	m.state.Error = ""
	m.notifyLocked()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state.Loading = false
		m.notifyLocked()
		m.mu.Unlock()
	}()

	id, err := m.store.Insert(ctx, Collection, EncodeDraft(draft, user.ID))
	if err != nil {
		m.setError(MessageAddFailed)
		m.recorder.RecordLocationAdd(metrics.ResultFailure)
		m.logger.Error("failed to add location",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return model.Location{}, fmt.Errorf("failed to add location: %w", err)
	}

	loc := model.Location{
		ID:          id,
		Name:        draft.Name,
		Description: draft.Description,
		Rating:      draft.Rating,
		CreatedAt:   m.now(),
		OwnerID:     user.ID,
	}

	m.mu.Lock()
	stale := epoch != m.epoch
	if !stale {
		m.state.Locations = append(m.state.Locations, loc)
	}
	m.mu.Unlock()

	m.recorder.RecordLocationAdd(metrics.ResultSuccess)
	m.logger.Info("location added",
		slog.String("user_id", user.ID),
		slog.String("location_id", id),
	)
	if stale {
		return loc, ErrSessionChanged
	}
	return loc, nil
}

// Geocode は場所の名前を座標に変換する。
// 名前が空、候補なし、通信エラー、座標の解析失敗のいずれの場合もfalseを返し、エラーは返さない。
func (m *Manager) Geocode(ctx context.Context, name string) (model.Coordinates, bool) {
	m.Touch()
	if strings.TrimSpace(name) == "" || m.geocoder == nil {
		return model.Coordinates{}, false
	}

	candidates, err := m.geocoder.Search(ctx, name)
	if err != nil {
		m.recorder.RecordGeocode(metrics.ResultError)
		m.logger.Warn("geocoding failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return model.Coordinates{}, false
	}
	if len(candidates) == 0 {
		m.recorder.RecordGeocode(metrics.ResultNotFound)
		return model.Coordinates{}, false
	}

	lat, latErr := parseCoordinate(candidates[0].Lat)
	lon, lonErr := parseCoordinate(candidates[0].Lon)
	if latErr != nil || lonErr != nil {
		m.recorder.RecordGeocode(metrics.ResultError)
		m.logger.Warn("geocoding returned unparsable coordinates",
			slog.String("name", name),
			slog.String("lat", candidates[0].Lat),
			slog.String("lon", candidates[0].Lon),
		)
		return model.Coordinates{}, false
	}

	m.recorder.RecordGeocode(metrics.ResultFound)
	return model.Coordinates{Latitude: lat, Longitude: lon}, true
}

func parseCoordinate(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("coordinate is not finite: %q", s)
	}
	return f, nil
}

// Snapshot は現在の状態のコピーを返す。
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Location はIDに一致するロケーションを一覧から探す。
func (m *Manager) Location(id string) (model.Location, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, loc := range m.state.Locations {
		if loc.ID == id {
			return loc, true
		}
	}
	return model.Location{}, false
}

// Watch は状態の変化を受け取るチャネルと解除関数を返す。
// チャネルには最新の状態だけが保持され、受信が遅れた場合は古い状態が捨てられる。
// 登録直後に現在の状態が1件送られる。
func (m *Manager) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// WatcherCount は登録中のWatchの数を返す。
func (m *Manager) WatcherCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers)
}

// halt は以降の読み込みと追加を拒否し、実行中の読み込み・追加の完了を待つ。
func (m *Manager) halt() {
	m.mu.Lock()
	m.halted = true
	m.mu.Unlock()

	m.opMu.Lock()
	m.opMu.Unlock()
}

// Touch は最終利用時刻を更新する。
func (m *Manager) Touch() {
	m.lastActive.Store(time.Now().UnixNano())
}

// LastActive は最終利用時刻を返す。
func (m *Manager) LastActive() time.Time {
	return time.Unix(0, m.lastActive.Load())
}

func (m *Manager) setError(message string) {
	m.mu.Lock()
	m.state.Error = message
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manager) snapshotLocked() State {
	s := m.state
	s.Locations = make([]model.Location, len(m.state.Locations))
	copy(s.Locations, m.state.Locations)
	return s
}

// notifyLocked は全てのWatchに最新の状態を送る。mu保持中に呼ぶこと。
func (m *Manager) notifyLocked() {
	if len(m.watchers) == 0 {
		return
	}
	for ch := range m.watchers {
		s := m.snapshotLocked()
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
