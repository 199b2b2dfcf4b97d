// Package service wires the muster core into one device process: the local
// session, store subscriptions, scan events, pushes, and the admin API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/history"
	"github.com/tarcisiodg/musterctl/internal/localstate"
	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/reconcile"
	"github.com/tarcisiodg/musterctl/internal/roster"
	"github.com/tarcisiodg/musterctl/internal/scanner"
	"github.com/tarcisiodg/musterctl/internal/store"
)

var (
	ErrInvalidConfig  = errors.New("service: invalid config")
	ErrNoSession      = errors.New("service: no active session")
	ErrUnitBusy       = errors.New("service: unit already active on another device")
	ErrUnitNotLive    = errors.New("service: unit has no live session to observe")
	ErrObserverOnly   = errors.New("service: observer sessions cannot mutate")
	ErrSessionAlready = errors.New("service: a session is already open")
)

// Config configures one device process.
type Config struct {
	DeviceName string
	Operator   string
	Units      []string
	Grace      time.Duration
	Tick       time.Duration
	Heartbeat  time.Duration
	AdminAddr  string
	AdminToken string
	Push       PushConfig
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.DeviceName) == "" {
		c.DeviceName = "muster.local"
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 30 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = reconcile.DefaultGrace
	}
	c.Push = c.Push.WithDefaults()
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Operator) == "" {
		return fmt.Errorf("%w: missing operator", ErrInvalidConfig)
	}
	if len(c.Units) == 0 {
		return fmt.Errorf("%w: missing unit list", ErrInvalidConfig)
	}
	return nil
}

// Service is the muster device runtime. All session mutation happens under
// one mutex; the run loop is the only writer in normal operation, feeding
// mutations from scan events, store snapshots, and the tick in arrival
// order.
type Service struct {
	cfg      Config
	store    store.Store
	local    *localstate.File
	source   scanner.Source
	narrator history.Narrator
	clock    func() time.Time

	mu       sync.RWMutex
	session  *muster.Session
	snap     fleet.Snapshot
	counters fleet.ManualCounters
	released fleet.ReleasedSet
	general  fleet.GeneralMusterState
	dir      roster.Directory

	rec     *reconcile.Reconciler
	events  chan event
	pushQ   chan string
	outbox  *pushOutbox
	cancels []store.CancelFunc
}

// Option customizes a Service.
type Option func(*Service)

// WithLocalState persists session snapshots for restart rehydration.
func WithLocalState(f *localstate.File) Option {
	return func(s *Service) { s.local = f }
}

// WithScanner attaches the hardware scan source.
func WithScanner(src scanner.Source) Option {
	return func(s *Service) { s.source = src }
}

// WithNarrator attaches the advisory summary generator.
func WithNarrator(n history.Narrator) Option {
	return func(s *Service) { s.narrator = n }
}

// WithClock overrides wall-clock reads (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// New builds a Service over the shared document store.
func New(cfg Config, st store.Store, opts ...Option) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		store:    st,
		clock:    time.Now,
		snap:     fleet.Normalize(nil, cfg.Units),
		counters: fleet.NewManualCounters(nil),
		events:   make(chan event, 256),
		pushQ:    make(chan string, 64),
		outbox:   newPushOutbox(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rec = reconcile.New(cfg.Units, cfg.Operator, cfg.Grace, s.clock())
	return s, nil
}

type eventKind int

const (
	evUnitDoc eventKind = iota
	evGeneralDoc
	evCountersDoc
	evReleasedDoc
)

type event struct {
	kind eventKind
	key  string
	raw  []byte
}

// Run drives the device until ctx is canceled. It subscribes to the shared
// documents, rehydrates any persisted session, starts the pusher and the
// admin API, and then processes events strictly in arrival order.
func (s *Service) Run(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	defer s.teardown()

	pusherDone := make(chan struct{})
	go s.runPusher(ctx, pusherDone)

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, s.cfg.AdminAddr)
		}()
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	lastHeartbeat := s.clock()

	var scans <-chan scanner.Event
	if s.source != nil {
		scans = s.source.Events()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("device", s.cfg.DeviceName).Msg("service shutdown")
			<-pusherDone
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case ev, ok := <-scans:
			if !ok {
				scans = nil
				continue
			}
			s.ApplyScan(ev)
		case ev := <-s.events:
			s.dispatch(ev)
		case <-ticker.C:
			s.sweepOutbox()
			if now := s.clock(); now.Sub(lastHeartbeat) >= s.cfg.Heartbeat {
				lastHeartbeat = now
				s.logHeartbeat(now)
			}
		}
	}
}

func (s *Service) bootstrap(ctx context.Context) error {
	if err := s.refreshRoster(ctx); err != nil {
		log.Warn().Err(err).Msg("berth directory unavailable at startup")
	}
	if err := s.subscribeAll(); err != nil {
		return err
	}
	s.rehydrate()
	return nil
}

// subscribeAll registers the snapshot subscriptions. Callbacks post into the
// event queue so every mutation is applied by the run loop in order.
func (s *Service) subscribeAll() error {
	post := func(ev event) {
		select {
		case s.events <- ev:
		default:
			log.Warn().Str("key", ev.key).Msg("event queue full, snapshot dropped")
		}
	}

	cancelUnits, err := s.store.SubscribePrefix(store.PrefixUnits, func(key string, raw []byte) {
		post(event{kind: evUnitDoc, key: key, raw: raw})
	})
	if err != nil {
		return fmt.Errorf("service: subscribe units: %w", err)
	}
	cancelGeneral, err := s.store.Subscribe(store.KeyGeneral, func(raw []byte) {
		post(event{kind: evGeneralDoc, key: store.KeyGeneral, raw: raw})
	})
	if err != nil {
		cancelUnits()
		return fmt.Errorf("service: subscribe general: %w", err)
	}
	cancelCounters, err := s.store.Subscribe(store.KeyCounters, func(raw []byte) {
		post(event{kind: evCountersDoc, key: store.KeyCounters, raw: raw})
	})
	if err != nil {
		cancelUnits()
		cancelGeneral()
		return fmt.Errorf("service: subscribe counters: %w", err)
	}
	cancelReleased, err := s.store.Subscribe(store.KeyReleased, func(raw []byte) {
		post(event{kind: evReleasedDoc, key: store.KeyReleased, raw: raw})
	})
	if err != nil {
		cancelUnits()
		cancelGeneral()
		cancelCounters()
		return fmt.Errorf("service: subscribe released: %w", err)
	}
	s.cancels = []store.CancelFunc{cancelUnits, cancelGeneral, cancelCounters, cancelReleased}
	return nil
}

// teardown releases every subscription so no callback fires after the
// owning loop is gone. The local snapshot is deliberately left in place:
// only finish, forced close, and logout clear it.
func (s *Service) teardown() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

func (s *Service) dispatch(ev event) {
	switch ev.kind {
	case evUnitDoc:
		s.handleUnitDoc(ev.key, ev.raw)
	case evGeneralDoc:
		s.handleGeneralDoc(ev.raw)
	case evCountersDoc:
		s.handleCountersDoc(ev.raw)
	case evReleasedDoc:
		s.handleReleasedDoc(ev.raw)
	}
}

func (s *Service) refreshRoster(ctx context.Context) error {
	var dir roster.Directory
	err := s.store.GetDoc(ctx, store.KeyRoster, &dir)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("service: fetch berth directory: %w", err)
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
	for _, w := range dir.Validate() {
		log.Warn().Str("berth", w.BerthID).Str("warning", w.Message).Msg("berth directory inconsistency")
	}
	return nil
}

// rehydrate re-adopts a persisted session after a restart. Elapsed time is
// recomputed from the saved resume timestamp; the reconciler and general
// monitor will evict the session if remote state says it no longer exists.
func (s *Service) rehydrate() {
	if s.local == nil {
		return
	}
	sess, ok, err := s.local.Load()
	if err != nil {
		log.Warn().Err(err).Msg("session rehydration failed")
		return
	}
	if !ok {
		return
	}
	if sess.Mode == muster.ModeObserver {
		// Observer views are cheap to reopen; never resurrect them.
		if err := s.local.Clear(); err != nil {
			log.Warn().Err(err).Msg("clear stale observer snapshot")
		}
		return
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	log.Info().
		Str("unit", sess.Unit).
		Int64("elapsed", sess.Elapsed(s.clock())).
		Bool("paused", sess.Paused).
		Msg("session rehydrated")
	s.enqueuePush(store.UnitKey(sess.Unit))
}

func (s *Service) logHeartbeat(now time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev := log.Info().Str("device", s.cfg.DeviceName)
	if s.session != nil {
		ev = ev.
			Str("unit", s.session.Unit).
			Str("mode", s.session.Mode.String()).
			Int("count", s.session.Count()).
			Int64("elapsed", s.session.Elapsed(now)).
			Bool("paused", s.session.Paused)
	} else {
		ev = ev.Str("unit", "")
	}
	ev.Int("pending_pushes", s.outbox.Len()).Msg("heartbeat")
}

func decode(raw []byte, out any) bool {
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Msg("malformed store document ignored")
		return false
	}
	return true
}
