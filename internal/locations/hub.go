package locations

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/placebook/internal/metrics"
	"github.com/hitoshi/placebook/internal/model"
	"github.com/hitoshi/placebook/internal/repository"
)

// ErrHubClosed はClose後にワークスペースを開こうとした場合のエラー。
var ErrHubClosed = errors.New("workspace hub is closed")

// endGracePeriod はセッション終了後、ワークスペースが状態を反映するまで待つ最大時間。
const endGracePeriod = 2 * time.Second

// ScopeFunc はセッションIDに対応するSessionSourceを返す。
type ScopeFunc func(sessionID string) SessionSource

// ChangeFeed はセッション遷移の通知元。*auth.Broker がこれを満たす。
type ChangeFeed interface {
	Subscribe(sessionID string) (<-chan model.SessionChange, func())
}

// HubConfig はHubの設定。
type HubConfig struct {
	// IdleTTL は未使用のワークスペースを破棄するまでの時間。0以下の場合は破棄しない。
	IdleTTL time.Duration
	// SweepInterval は未使用ワークスペースを確認する間隔。0以下の場合はIdleTTLの半分。
	SweepInterval time.Duration
	// SessionCheckInterval はワークスペースのセッションが失効していないか確認する間隔。0以下の場合は確認しない。
	SessionCheckInterval time.Duration
}

// Hub はセッションIDごとのワークスペース（Manager）を管理する。
type Hub struct {
	scopes   ScopeFunc
	feed     ChangeFeed
	store    repository.DocumentStore
	geocoder Geocoder
	logger   *slog.Logger
	recorder metrics.Recorder
	config   HubConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	workspaces map[string]*workspace
	closed     bool
}

type workspace struct {
	manager *Manager
	cancel  context.CancelFunc
}

// NewHub はHubを生成する。
func NewHub(
	scopes ScopeFunc,
	feed ChangeFeed,
	store repository.DocumentStore,
	geocoder Geocoder,
	logger *slog.Logger,
	recorder metrics.Recorder,
	config HubConfig,
) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if config.SweepInterval <= 0 && config.IdleTTL > 0 {
		config.SweepInterval = config.IdleTTL / 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		scopes:     scopes,
		feed:       feed,
		store:      store,
		geocoder:   geocoder,
		logger:     logger,
		recorder:   recorder,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		workspaces: make(map[string]*workspace),
	}
}

// Open はsessionIDのワークスペースを返す。存在しない場合は生成して購読を開始する。
func (h *Hub) Open(sessionID string) (*Manager, error) {
	if sessionID == "" {
		return nil, &model.ValidationError{Field: "sessionId", Reason: "required"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if ws, ok := h.workspaces[sessionID]; ok {
		ws.manager.Touch()
		return ws.manager, nil
	}

	m := NewManager(h.scopes(sessionID), h.store, h.geocoder,
		h.logger.With(slog.String("session_id", shortID(sessionID))), h.recorder)
	ctx, cancel := context.WithCancel(h.ctx)
	h.workspaces[sessionID] = &workspace{manager: m, cancel: cancel}
	h.recorder.SetActiveWorkspaces(len(h.workspaces))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := m.Run(ctx); err != nil {
			h.logger.Error("workspace stopped with error", slog.String("error", err.Error()))
		}
	}()

	return m, nil
}

// Get は既存のワークスペースを返す。
func (h *Hub) Get(sessionID string) (*Manager, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws, ok := h.workspaces[sessionID]
	if !ok {
		return nil, false
	}
	return ws.manager, true
}

// Len は稼働中のワークスペース数を返す。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workspaces)
}

// Start は全セッションの遷移を購読し、サインイン時にワークスペースを開き、
// サインアウト時に閉じる。未使用ワークスペースの定期的な破棄も行う。
// ctxが終了するかCloseが呼ばれるまで動作する。
func (h *Hub) Start(ctx context.Context) {
	changes, unsubscribe := h.feed.Subscribe("")

	var tick <-chan time.Time
	if h.config.IdleTTL > 0 {
		ticker := time.NewTicker(h.config.SweepInterval)
		tick = ticker.C
		defer ticker.Stop()
	}

	var check <-chan time.Time
	if h.config.SessionCheckInterval > 0 {
		ticker := time.NewTicker(h.config.SessionCheckInterval)
		check = ticker.C
		defer ticker.Stop()
	}

	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case change := <-changes:
			if change.Ended() {
				h.end(change.SessionID)
				continue
			}
			if _, err := h.Open(change.SessionID); err != nil {
				h.logger.Warn("failed to open workspace",
					slog.String("session_id", shortID(change.SessionID)),
					slog.String("error", err.Error()),
				)
			}
		case <-tick:
			h.sweep(time.Now())
		case <-check:
			h.checkSessions(ctx)
		}
	}
}

// end はセッション終了を反映したワークスペースを停止して破棄する。
func (h *Hub) end(sessionID string) {
	h.mu.Lock()
	ws, ok := h.workspaces[sessionID]
	if !ok || h.closed {
		h.mu.Unlock()
		return
	}
	delete(h.workspaces, sessionID)
	h.recorder.SetActiveWorkspaces(len(h.workspaces))
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		defer ws.cancel()

		states, stop := ws.manager.Watch()
		defer stop()
		timer := time.NewTimer(endGracePeriod)
		defer timer.Stop()
		for {
			select {
			case s := <-states:
				if s.Status == StatusAnonymous {
					return
				}
			case <-timer.C:
				return
			case <-h.ctx.Done():
				return
			}
		}
	}()
}

// sweep は一定時間利用されていないワークスペースを破棄する。
// 状態を監視中のクライアントがいるワークスペースは残す。
func (h *Hub) sweep(now time.Time) int {
	h.mu.Lock()
	var evicted []*workspace
	for id, ws := range h.workspaces {
		if ws.manager.WatcherCount() > 0 {
			continue
		}
		if now.Sub(ws.manager.LastActive()) < h.config.IdleTTL {
			continue
		}
		evicted = append(evicted, ws)
		delete(h.workspaces, id)
	}
	h.recorder.SetActiveWorkspaces(len(h.workspaces))
	h.mu.Unlock()

	for _, ws := range evicted {
		ws.cancel()
	}
	if len(evicted) > 0 {
		h.logger.Info("idle workspaces evicted", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// checkSessions はユーザーに紐づくワークスペースのセッションを確認し、
// 失効していたものを未認証に遷移させてから破棄する。破棄した数を返す。
// 監視中のクライアントがいても対象にする。
func (h *Hub) checkSessions(ctx context.Context) int {
	h.mu.Lock()
	managers := make(map[string]*Manager, len(h.workspaces))
	for id, ws := range h.workspaces {
		managers[id] = ws.manager
	}
	h.mu.Unlock()

	expired := 0
	for id, m := range managers {
		ended, err := m.Revalidate(ctx)
		if err != nil {
			h.logger.Warn("failed to check workspace session",
				slog.String("session_id", shortID(id)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ended {
			continue
		}
		h.logger.Info("session expired, closing workspace", slog.String("session_id", shortID(id)))
		h.end(id)
		expired++
	}
	return expired
}

// CloseUser はuserIDのワークスペースを全て停止して破棄する。退会時に使用する。
// 実行中の読み込み・追加の完了を待ってから戻り、以降の追加は受け付けない。
func (h *Hub) CloseUser(userID string) int {
	h.mu.Lock()
	var closed []*workspace
	for id, ws := range h.workspaces {
		if ws.manager.Snapshot().UserID != userID {
			continue
		}
		closed = append(closed, ws)
		delete(h.workspaces, id)
	}
	h.recorder.SetActiveWorkspaces(len(h.workspaces))
	h.mu.Unlock()

	for _, ws := range closed {
		ws.cancel()
		ws.manager.halt()
	}
	return len(closed)
}

// Close は全てのワークスペースを停止し、終了を待つ。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, ws := range h.workspaces {
		ws.cancel()
		delete(h.workspaces, id)
	}
	h.recorder.SetActiveWorkspaces(0)
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

// shortID はログ出力用にセッションIDの先頭だけを返す。
func shortID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}
