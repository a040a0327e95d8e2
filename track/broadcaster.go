// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"sync"
	"time"

	"github.com/geotrackd/geotrackd/geocode"
	"github.com/geotrackd/geotrackd/spatial"
)

// FusedUpdate pairs an accepted fix with its resolved address, nil when
// geocoding failed. Created once per accepted fix, never mutated after.
type FusedUpdate struct {
	Fix       spatial.Fix            `json:"fix"`
	Address   *geocode.AddressResult `json:"address,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Broadcaster is a single-slot, multi-subscriber publish mechanism.
// Delivery is best-effort and at-most-once per publish per subscriber:
// a burst of publishes leaves a slow subscriber seeing only the most
// recent value, never a backlog. Location relevance decays quickly, so
// dropping intermediate values is acceptable.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	latest FusedUpdate
	has    bool
}

// Subscription is a handle for one subscriber. Updates arrive on C until
// Unsubscribe closes it.
type Subscription struct {
	// C carries at most the latest unconsumed update.
	C <-chan FusedUpdate

	ch chan FusedUpdate
}

// NewBroadcaster creates an empty broadcaster. Each tracking session
// owns its broadcaster; there is no process-wide instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*Subscription]struct{}),
	}
}

// Publish stores the update and offers it to every current subscriber,
// replacing any unconsumed previous value. Subscribers registered after
// a publish do not receive it retroactively.
func (b *Broadcaster) Publish(update FusedUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = update
	b.has = true

	for sub := range b.subs {
		select {
		case sub.ch <- update:
		default:
			// slot occupied: drop the stale value, then retry once in
			// case the subscriber drained it concurrently
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- update:
			default:
			}
		}
	}
}

// Subscribe registers a new observer.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan FusedUpdate, 1)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[sub] = struct{}{}

	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// multiple times.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}

	delete(b.subs, sub)
	close(sub.ch)
}

// Latest returns the most recently published update, if any.
func (b *Broadcaster) Latest() (FusedUpdate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.latest, b.has
}
