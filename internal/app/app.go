package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meetsync/internal/busy"
	"meetsync/internal/config"
	"meetsync/internal/debugserver"
	"meetsync/internal/eventbus"
	"meetsync/internal/httpapi"
	"meetsync/internal/inbox"
	"meetsync/internal/lifecycle"
	"meetsync/internal/metrics"
	"meetsync/internal/notifier"
	"meetsync/internal/reminder"
	"meetsync/internal/runtime/supervisor"
	"meetsync/internal/storage"
	"meetsync/internal/transport"
	logx "meetsync/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	reg   *prometheus.Registry
	met   *metrics.Metrics

	outbox *transport.Outbox
	busy   busy.Source

	notif    *notifier.Dispatcher
	meetings *lifecycle.Service
	remind   *reminder.Service
	debug    *debugserver.Service

	inboxCfg   inbox.Config
	inboxLimit int
	httpCfg    httpapi.Config

	mu       sync.Mutex
	hub      *inbox.Hub
	httpAddr net.Addr
}

// NewApp loads the config at cfgPath and wires every component. Nothing
// runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.Component("app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	// Close the store if any later step fails.
	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	tr, outbox, err := buildTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	src, err := buildBusy(cfg, log.With(logx.Component("busy")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, notifier.Deps{
		Transport:     tr,
		Meetings:      store.Meetings(),
		Notifications: store.Notifications(),
		Bus:           bus,
		Metrics:       met,
		Log:           log,
	})

	meetings, err := lifecycle.New(lifecycle.Deps{
		Meetings:      store.Meetings(),
		Responses:     store.Responses(),
		Notifications: store.Notifications(),
		Dispatcher:    notif,
		Bus:           bus,
		Metrics:       met,
		Log:           log,
	})
	if err != nil {
		return nil, err
	}

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	remind := reminder.New(rcfg, reminder.Deps{
		Meetings: store.Meetings(),
		Reminder: meetings,
		Metrics:  met,
		Log:      log,
	})

	icfg, limit, err := mapInboxConfig(cfg)
	if err != nil {
		return nil, err
	}
	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		reg:        reg,
		met:        met,
		outbox:     outbox,
		busy:       src,
		notif:      notif,
		meetings:   meetings,
		remind:     remind,
		inboxCfg:   icfg,
		inboxLimit: limit,
		httpCfg:    hcfg,
	}
	a.debug = debugserver.New(dcfg, debugserver.Deps{
		Gatherer: reg,
		Tasks:    a.tasks,
		Log:      log,
	})
	ok = true
	return a, nil
}

// Meetings exposes the lifecycle service, e.g. for CLI commands.
func (a *App) Meetings() *lifecycle.Service { return a.meetings }

// Outbox returns the in-memory outbox when transport.driver=outbox.
func (a *App) Outbox() *transport.Outbox { return a.outbox }

// HTTPAddr is the bound API address once Start returned.
func (a *App) HTTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.httpAddr
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) tasks() any {
	out := map[string]any{"events_dropped": a.bus.Dropped()}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	a.mu.Lock()
	hub := a.hub
	a.mu.Unlock()
	if hub != nil {
		out["inbox_recipients"] = len(hub.Emails())
	}
	out["last_reminder_sweep"] = a.remind.LastReport()
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		var errs []error
		for _, fn := range []func(*config.Config) error{
			func(c *config.Config) error { _, err := mapNotifierConfig(c); return err },
			func(c *config.Config) error { _, _, err := mapInboxConfig(c); return err },
			func(c *config.Config) error { _, err := mapReminderConfig(c); return err },
			func(c *config.Config) error { _, err := mapDebugConfig(c); return err },
		} {
			if err := fn(cfg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	hub := inbox.NewHub(a.inboxCfg, inbox.Deps{
		Store:   a.store.Notifications(),
		Bus:     a.bus,
		Metrics: a.met,
		Log:     a.log,
	}, a.sup, a.inboxLimit)
	a.mu.Lock()
	a.hub = hub
	a.mu.Unlock()

	api, err := httpapi.New(a.httpCfg, httpapi.Deps{
		Meetings: a.meetings,
		Inbox:    hub,
		Busy:     a.busy,
		Log:      a.log,
	})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", a.httpCfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", a.httpCfg.Addr, err)
	}
	a.mu.Lock()
	a.httpAddr = ln.Addr()
	a.mu.Unlock()
	a.sup.Go("http.serve", func(c context.Context) error { return api.Serve(c, ln) })

	if err := a.remind.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	// Successful sends are counted by metrics; only failures and state changes are logged.
	events, unsub := eventbus.Filtered(a.bus, 128, loggedEvents...)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("http", ln.Addr().String()))
	return nil
}

var loggedEvents = []string{
	eventbus.TypeNotifierFailed,
	eventbus.TypeInboxFailed,
	eventbus.TypeMeetingCreated,
	eventbus.TypeMeetingSent,
	eventbus.TypeMeetingConfirmed,
	eventbus.TypeMeetingCancelled,
	eventbus.TypeResponseSubmitted,
	eventbus.TypeConfigReloaded,
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case inbox.FailedEvent:
		a.log.Warn("inbox poll gave up", logx.String("email", d.Email), logx.Int("attempts", d.Attempts), logx.Err(d.Err))
	case notifier.Event:
		if e.Type == eventbus.TypeNotifierFailed {
			a.log.Debug("notification attempt failed", logx.String("meeting", d.MeetingID), logx.String("email", d.Email), logx.Int("attempt", d.Attempt), logx.String("err", d.Error))
			return
		}
		a.log.Debug("event", logx.String("type", e.Type), logx.String("meeting", d.MeetingID))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// reloadLoop applies hot-reloadable sections and warns about the rest.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed in sections read only at startup; restart required", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLogConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if icfg, _, err := mapInboxConfig(next); err != nil {
		a.log.Warn("invalid inbox config; keeping previous", logx.Err(err))
	} else {
		a.mu.Lock()
		hub := a.hub
		a.mu.Unlock()
		if hub != nil {
			hub.Apply(icfg)
		}
	}
	if rcfg, err := mapReminderConfig(next); err != nil {
		a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
	} else if err := a.remind.Apply(rcfg); err != nil {
		a.log.Warn("reminder reconfigure failed", logx.Err(err))
	}
	if dcfg, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	eventbus.Publish(a.bus, eventbus.TypeConfigReloaded, sections)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Stop order: producers first, then the store they write to.
	a.step(ctx, "reminder", 3*time.Second, func(c context.Context) error { a.remind.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	// Waits for the HTTP server and inbox pollers to drain.
	a.step(ctx, "supervisor", a.httpCfg.ShutdownTimeout+time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if limit > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)))
		// Leak logging: observe when/if the step eventually finishes.
		go func() {
			err := <-done
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
