// Package service wires the MessagePipe components into one running engine:
// the store adapter, the three polling listeners, the reconciliation queue,
// the dispatcher with its notification sinks, the helper channel, the outbox,
// and the HTTP API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/api"
	"github.com/BTreeMap/MessagePipe/internal/dispatch"
	"github.com/BTreeMap/MessagePipe/internal/helper"
	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/notify"
	"github.com/BTreeMap/MessagePipe/internal/poller"
	"github.com/BTreeMap/MessagePipe/internal/reconcile"
	"github.com/BTreeMap/MessagePipe/internal/scheduler"
	"github.com/BTreeMap/MessagePipe/internal/send"
	"github.com/BTreeMap/MessagePipe/internal/store"
)

// Opts holds configuration options for the engine.
type Opts struct {
	DSN               string
	APIAddr           string
	HelperAddr        string
	PollInterval      time.Duration
	GroupPollInterval time.Duration
	DedupCapacity     int
	MatchDeadline     time.Duration
	ClockSkewOffset   time.Duration
	SweepInterval     time.Duration

	SendCommand   string
	PrivateURL    string
	SMSTo         string
	RefreshSpec   string
	WatchStoreDir bool
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithDSN sets the message store DSN.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithAPIAddr sets the HTTP API listen address.
func WithAPIAddr(addr string) Option {
	return func(o *Opts) { o.APIAddr = addr }
}

// WithHelperAddr sets the helper channel listen address.
func WithHelperAddr(addr string) Option {
	return func(o *Opts) { o.HelperAddr = addr }
}

// WithPollInterval sets the fast listener poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithGroupPollInterval sets the group listener poll interval.
func WithGroupPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.GroupPollInterval = d }
}

// WithDedupCapacity sets the dedup cache capacity.
func WithDedupCapacity(n int) Option {
	return func(o *Opts) { o.DedupCapacity = n }
}

// WithMatchDeadline sets the default reconciliation deadline.
func WithMatchDeadline(d time.Duration) Option {
	return func(o *Opts) { o.MatchDeadline = d }
}

// WithClockSkewOffset sets the backdating offset applied at enqueue time.
func WithClockSkewOffset(d time.Duration) Option {
	return func(o *Opts) { o.ClockSkewOffset = d }
}

// WithSweepInterval sets the timeout sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithSendCommand sets the external command driving the primary send channel.
func WithSendCommand(cmd string) Option {
	return func(o *Opts) { o.SendCommand = cmd }
}

// WithPrivateURL sets the private send channel endpoint.
func WithPrivateURL(url string) Option {
	return func(o *Opts) { o.PrivateURL = url }
}

// WithSMSTo enables the SMS forwarder sink targeting the given number.
// Credentials come from the Twilio environment variables.
func WithSMSTo(to string) Option {
	return func(o *Opts) { o.SMSTo = to }
}

// WithRefreshSpec sets the cron expression for the full snapshot refresh.
func WithRefreshSpec(spec string) Option {
	return func(o *Opts) { o.RefreshSpec = spec }
}

// WithStoreWatcher enables the filesystem watcher that nudges the listeners
// when the store file changes. Only meaningful for sqlite stores.
func WithStoreWatcher(enabled bool) Option {
	return func(o *Opts) { o.WatchStoreDir = enabled }
}

// Engine is the assembled change-detection and reconciliation pipeline.
type Engine struct {
	source     store.MessageSource
	cache      *poller.DedupCache
	queue      *reconcile.Queue
	dispatcher *dispatch.Dispatcher
	broadcast  *notify.Broadcaster

	messages *poller.MessageListener
	updates  *poller.UpdateListener
	groups   *poller.GroupListener
	watcher  *poller.StoreWatcher

	helper *helper.Channel
	outbox *send.Outbox
	sched  *scheduler.Scheduler
	server *api.Server

	cancel context.CancelFunc
}

// NewEngine builds the engine from options. Components whose configuration is
// absent (private channel, SMS sink, watcher) are simply not wired.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := Opts{
		APIAddr:           api.DefaultAddr,
		HelperAddr:        helper.DefaultListenAddr,
		PollInterval:      poller.DefaultPollInterval,
		GroupPollInterval: poller.DefaultGroupPollInterval,
		DedupCapacity:     poller.DefaultDedupCapacity,
		MatchDeadline:     reconcile.DefaultMatchDeadline,
		ClockSkewOffset:   reconcile.DefaultClockSkewOffset,
		SweepInterval:     reconcile.DefaultSweepInterval,
		RefreshSpec:       scheduler.DefaultSnapshotRefreshSpec,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, models.ErrStoreNotConfigured
	}

	source, err := store.NewMessageSource(store.WithDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}

	eng := &Engine{
		source:    source,
		cache:     poller.NewDedupCache(cfg.DedupCapacity),
		broadcast: notify.NewBroadcaster(),
	}

	sinks := []dispatch.Sink{eng.broadcast}
	if cfg.SMSTo != "" {
		forwarder, err := notify.NewSMSForwarder(notify.WithTo(cfg.SMSTo))
		if err != nil {
			return nil, fmt.Errorf("failed to configure SMS forwarder: %w", err)
		}
		sinks = append(sinks, forwarder)
	}
	eng.dispatcher = dispatch.NewDispatcher(sinks...)

	eng.queue = reconcile.NewQueue(
		reconcile.WithMatchDeadline(cfg.MatchDeadline),
		reconcile.WithClockSkewOffset(cfg.ClockSkewOffset),
		reconcile.WithSweepInterval(cfg.SweepInterval),
		reconcile.WithResultCallback(eng.dispatcher.DispatchSendResult),
	)

	eng.messages, err = poller.NewMessageListener(source, eng.cache, eng.queue, eng.dispatcher, cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	eng.updates, err = poller.NewUpdateListener(source, eng.cache, eng.dispatcher, cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	eng.groups, err = poller.NewGroupListener(source, eng.cache, eng.dispatcher, cfg.GroupPollInterval)
	if err != nil {
		return nil, err
	}

	if cfg.WatchStoreDir {
		if sq, ok := source.(*store.SQLiteSource); ok {
			eng.watcher, err = poller.NewStoreWatcher(sq.Path(), eng.messages, eng.updates, eng.groups)
			if err != nil {
				slog.Warn("Store watcher unavailable, relying on polling alone", "error", err)
			}
		} else {
			slog.Debug("Store watcher skipped for non-file store")
		}
	}

	eng.helper = helper.NewChannel(eng.dispatcher, helper.WithAddr(cfg.HelperAddr))

	var primary send.PrimarySender
	if cfg.SendCommand != "" {
		primary, err = send.NewScriptSender(cfg.SendCommand)
		if err != nil {
			return nil, err
		}
	}
	var private send.PrivateSender
	if cfg.PrivateURL != "" {
		private = send.NewHTTPSender(cfg.PrivateURL)
	}
	eng.outbox = send.NewOutbox(eng.queue, primary, private, source, eng.cache)

	eng.sched = scheduler.NewScheduler()
	if err := eng.sched.AddJob(cfg.RefreshSpec, eng.groups.RequestFullRefresh); err != nil {
		return nil, fmt.Errorf("invalid snapshot refresh schedule %q: %w", cfg.RefreshSpec, err)
	}

	eng.server = api.NewServer(eng.outbox, eng.helper, eng.broadcast,
		api.WithAddr(cfg.APIAddr),
		api.WithStatusFunc(eng.statusSnapshot),
	)
	return eng, nil
}

// Start brings every component up. Order matters: sinks before the
// dispatcher, the dispatcher before the listeners that feed it.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	e.dispatcher.Start()
	e.queue.Start()

	if err := e.helper.Start(); err != nil {
		return fmt.Errorf("failed to start helper channel: %w", err)
	}

	e.messages.Start(ctx)
	e.updates.Start(ctx)
	e.groups.Start(ctx)

	e.server.Start()
	slog.Info("Engine started", "helper_addr", e.helper.Addr())
	return nil
}

// Stop tears the engine down in reverse order, draining in-flight work.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}

	if err := e.server.Stop(ctx); err != nil {
		slog.Warn("API server shutdown failed", "error", err)
	}
	e.sched.Stop()

	e.messages.Stop()
	e.updates.Stop()
	e.groups.Stop()
	if e.watcher != nil {
		e.watcher.Stop()
	}

	e.helper.Stop()
	e.queue.Stop()
	e.dispatcher.Stop()
	slog.Info("Engine stopped")
}

// statusSnapshot reports engine state for the status endpoint.
func (e *Engine) statusSnapshot() interface{} {
	return map[string]interface{}{
		"pending_sends":     e.queue.Len(),
		"queued_events":     e.dispatcher.QueueLen(),
		"stream_clients":    e.broadcast.ClientCount(),
		"helper_connected":  e.helper.Connected(),
		"dedup_cache_size":  e.cache.Len(),
		"message_cursor":    e.messages.Cursor(),
		"watching_storedir": e.watcher != nil,
	}
}
