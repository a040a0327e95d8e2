// Copyright 2025 The Geotrackd Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"context"
	"sync"
	"time"

	"github.com/geotrackd/geotrackd/geocode"
	"github.com/geotrackd/geotrackd/observability"
	"github.com/geotrackd/geotrackd/spatial"
)

// AddressResolver is the part of the geocoding client the tracker needs.
// *geocode.Client satisfies it.
type AddressResolver interface {
	Reverse(ctx context.Context, lat, lng float64) (*geocode.AddressResult, error)
	Close()
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// Policy bounds the provider fix cadence. Zero fields take defaults.
	Policy UpdatePolicy

	// Authorized reports whether location access has been granted. The
	// caller owns the permission flow; the tracker only checks the
	// outcome at start.
	Authorized func() bool

	// Metrics is optional; nil records nothing.
	Metrics *observability.PipelineCollector
}

// Tracker is the location-acquisition state machine. Start and Stop may
// be invoked concurrently with fix delivery; all transitions and fix
// processing serialize through the tracker's mutex.
type Tracker struct {
	provider    Provider
	geocoder    AddressResolver
	broadcaster *Broadcaster
	authorized  func() bool
	policy      UpdatePolicy
	metrics     *observability.PipelineCollector

	mu               sync.Mutex
	state            State
	session          *session
	latestFix        spatial.Fix
	hasFix           bool
	seq              uint64
	lastPublishedSeq uint64

	errCh chan error
}

// session holds the per-start resources. A new session value per start
// lets late geocode results from an ended session be recognized and
// discarded.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	registration Registration
	deregOnce    sync.Once

	inflight sync.WaitGroup
}

// NewTracker builds a tracker over the given provider, geocoding client,
// and broadcaster. The broadcaster is constructor-injected so multiple
// independent sessions can coexist and be tested in isolation.
func NewTracker(provider Provider, geocoder AddressResolver, broadcaster *Broadcaster, options TrackerOptions) *Tracker {
	return &Tracker{
		provider:    provider,
		geocoder:    geocoder,
		broadcaster: broadcaster,
		authorized:  options.Authorized,
		policy:      options.Policy.normalize(),
		metrics:     options.Metrics,
		errCh:       make(chan error, 1),
	}
}

// State returns the current acquisition state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// LatestFix returns the most recently accepted raw fix.
func (t *Tracker) LatestFix() (spatial.Fix, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.latestFix, t.hasFix
}

// Broadcaster returns the broadcaster fused updates are published to.
func (t *Tracker) Broadcaster() *Broadcaster {
	return t.broadcaster
}

// Err surfaces terminal session failures, such as the provider failing
// mid-session. The owner decides whether to retry; the tracker never
// restarts acquisition on its own.
func (t *Tracker) Err() <-chan error {
	return t.errCh
}

// setState updates the state and its metric under the caller's lock.
func (t *Tracker) setState(s State) {
	t.state = s
	t.metrics.SetTrackerState(int(s))
}

// Start begins a tracking session. Starting while already starting or
// tracking is a no-op. Missing authorization fails with PermissionError
// and leaves the tracker Idle without registering with the provider;
// provider registration failure fails with ProviderError the same way.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateStarting || t.state == StateTracking {
		return nil
	}

	t.setState(StateStarting)

	if t.authorized == nil || !t.authorized() {
		t.setState(StateIdle)

		return &PermissionError{Message: "location access not granted"}
	}

	// The session outlives the Start call; only Stop or a provider
	// failure ends it.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{ctx: sessCtx, cancel: cancel}

	reg, err := t.provider.RegisterForUpdates(sessCtx, t.policy, &sessionSink{tracker: t, session: sess})
	if err != nil {
		cancel()
		t.setState(StateIdle)

		return &ProviderError{Op: "register", Err: err}
	}

	sess.registration = reg
	t.session = sess
	t.setState(StateTracking)

	return nil
}

// Stop ends the current session: cancels in-flight geocoding, waits for
// it to drain, deregisters from the provider exactly once, and releases
// the geocoding client. Stopping while Idle is a no-op.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()

	if t.state != StateTracking || t.session == nil {
		t.mu.Unlock()

		return nil
	}

	sess := t.session
	t.session = nil
	t.setState(StateStopping)
	t.mu.Unlock()

	sess.cancel()

	err := t.deregister(sess)

	// In-flight geocode results observe the ended session and are
	// discarded, never delivered.
	drained := make(chan struct{})
	go func() {
		sess.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}

	t.geocoder.Close()

	t.mu.Lock()
	// A Start may have installed a new session while this Stop was
	// deregistering and draining; finish the transition to Idle only if
	// the machine is still winding down this stop.
	if t.state == StateStopping && t.session == nil {
		t.setState(StateIdle)
	}
	t.mu.Unlock()

	return err
}

// deregister detaches from the provider exactly once, tolerating a
// provider that already dropped the registration.
func (t *Tracker) deregister(sess *session) error {
	var err error

	sess.deregOnce.Do(func() {
		err = t.provider.Deregister(sess.registration)
	})

	return err
}

// sessionSink routes provider callbacks to the tracker, tagged with the
// session they belong to.
type sessionSink struct {
	tracker *Tracker
	session *session
}

func (s *sessionSink) OnFix(fix spatial.Fix) {
	s.tracker.onFix(s.session, fix)
}

func (s *sessionSink) OnProviderError(err error) {
	s.tracker.onProviderError(s.session, err)
}

// onFix accepts a raw fix: notes it as the latest known fix, assigns a
// sequence number, and resolves its address asynchronously. The location
// update is never withheld because geocoding fails or lags.
func (t *Tracker) onFix(sess *session, fix spatial.Fix) {
	t.mu.Lock()

	if t.session != sess || t.state != StateTracking {
		t.mu.Unlock()

		return
	}

	t.latestFix = fix
	t.hasFix = true
	t.seq++
	seq := t.seq

	sess.inflight.Add(1)
	t.mu.Unlock()

	t.metrics.FixAccepted()

	go t.resolveAndPublish(sess, fix, seq)
}

// resolveAndPublish geocodes one fix and publishes the fused update. A
// result whose sequence is older than the last published one is
// discarded: a slow geocode for an old fix must not overwrite the state
// after a faster, newer fix already published.
func (t *Tracker) resolveAndPublish(sess *session, fix spatial.Fix, seq uint64) {
	defer sess.inflight.Done()

	start := time.Now()

	address, err := t.geocoder.Reverse(sess.ctx, fix.Point.Lat, fix.Point.Lng)
	if err != nil {
		address = nil

		t.metrics.GeocodeObserved(observability.OutcomeError, time.Since(start))
	} else {
		t.metrics.GeocodeObserved(observability.OutcomeOK, time.Since(start))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != sess {
		t.metrics.UpdateDiscarded(observability.ReasonSessionEnded)

		return
	}

	if seq <= t.lastPublishedSeq {
		t.metrics.UpdateDiscarded(observability.ReasonStale)

		return
	}

	t.lastPublishedSeq = seq

	// Publish under the lock: the broadcaster never blocks, and this
	// keeps publish order consistent with the sequence check.
	t.broadcaster.Publish(FusedUpdate{
		Fix:       fix,
		Address:   address,
		Timestamp: time.Now(),
	})

	t.metrics.UpdatePublished()
}

// onProviderError handles a terminal mid-session provider failure: the
// session ends immediately, the tracker returns to Idle, and the failure
// surfaces on Err.
func (t *Tracker) onProviderError(sess *session, err error) {
	t.mu.Lock()

	if t.session != sess {
		t.mu.Unlock()

		return
	}

	t.session = nil
	sess.cancel()
	t.setState(StateIdle)
	t.mu.Unlock()

	_ = t.deregister(sess)

	terminal := &ProviderError{Op: "updates", Err: err}

	select {
	case t.errCh <- terminal:
	default:
	}
}
