package auth

import (
	"context"
	"sync"

	"github.com/hitoshi/placebook/internal/model"
)

// subscriberBuffer は購読チャネルのバッファ長。
const subscriberBuffer = 8

// Broker はセッション状態の遷移をサブスクライバーに配信する。
// サブスクライバーはセッションID単位、または全セッションを購読できる。
type Broker struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	sessionID string // 空文字列は全セッション
	ch        chan model.SessionChange
	done      chan struct{}
	once      sync.Once
}

// NewBroker はBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

// Subscribe はsessionIDの遷移通知を受け取るチャネルと購読解除関数を返す。
// sessionIDが空文字列の場合は全セッションの通知を受け取る。
// 購読解除関数は何度呼んでもよい。解除後にチャネルへ送信されることはない。
// チャネル自体は閉じないため、受信側はコンテキスト等で終了を判定すること。
func (b *Broker) Subscribe(sessionID string) (<-chan model.SessionChange, func()) {
	s := &subscriber{
		sessionID: sessionID,
		ch:        make(chan model.SessionChange, subscriberBuffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		s.once.Do(func() {
			close(s.done)
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
		})
	}
	return s.ch, unsubscribe
}

// Publish は遷移通知を対象のサブスクライバーへ配信する。
// バッファが埋まっている場合は受信されるまで待つが、
// 購読解除済みのサブスクライバーやctxの終了で待機を打ち切る。
func (b *Broker) Publish(ctx context.Context, change model.SessionChange) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		if s.sessionID == "" || s.sessionID == change.SessionID {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case <-s.done:
			continue
		default:
		}
		select {
		case s.ch <- change:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// SubscriberCount は現在の購読数を返す。
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
