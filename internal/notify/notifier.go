// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package notify fans position and ranking updates out to subscribers.
package notify

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/safety_tracker/internal/gps"
	"github.com/relabs-tech/safety_tracker/internal/hazard"
)

// Token identifies a subscription.
type Token string

// Subscriber receives updates. Either callback may be nil.
type Subscriber struct {
	OnPosition func(gps.Fix)
	OnRanking  func([]hazard.Result)
}

type subscription struct {
	token Token
	sub   Subscriber
}

// Notifier delivers updates synchronously, in subscription order. There is
// no buffering: late subscribers do not see earlier events.
type Notifier struct {
	mu   sync.RWMutex
	subs []subscription
	live map[Token]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{live: make(map[Token]struct{})}
}

func (n *Notifier) Subscribe(s Subscriber) Token {
	tok := Token(uuid.NewString())

	n.mu.Lock()
	n.subs = append(n.subs, subscription{token: tok, sub: s})
	n.live[tok] = struct{}{}
	n.mu.Unlock()
	return tok
}

// Unsubscribe removes the subscription and reports whether the token was
// known. Publishes that start after it returns skip the subscriber, as do
// later steps of a dispatch running on the calling goroutine (for example an
// unsubscribe from inside a callback). A dispatch on another goroutine that
// already checked the subscription may still deliver one last update.
func (n *Notifier) Unsubscribe(tok Token) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.live[tok]; !ok {
		return false
	}
	delete(n.live, tok)
	n.subs = slices.DeleteFunc(slices.Clone(n.subs), func(s subscription) bool {
		return s.token == tok
	})
	return true
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier) PublishPosition(fix gps.Fix) {
	for _, s := range n.snapshot() {
		if s.sub.OnPosition != nil && n.alive(s.token) {
			s.sub.OnPosition(fix)
		}
	}
}

// PublishRanking hands each subscriber its own copy of results.
func (n *Notifier) PublishRanking(results []hazard.Result) {
	for _, s := range n.snapshot() {
		if s.sub.OnRanking != nil && n.alive(s.token) {
			s.sub.OnRanking(slices.Clone(results))
		}
	}
}

func (n *Notifier) snapshot() []subscription {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.subs
}

func (n *Notifier) alive(tok Token) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.live[tok]
	return ok
}
