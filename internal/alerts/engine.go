// Package alerts manages operator-facing notifications: creation,
// acknowledgement, dismissal, auto-expiry, and operator-defined rules
// evaluated against telemetry snapshots.
package alerts

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/logstore"
	"github.com/hugo-lorenzo-mato/beacon/internal/tasks"
)

const module = "alert_engine"

// Config configures the alert engine.
type Config struct {
	SweepInterval      time.Duration
	DefaultDismissHrs  float64
	RulesPath          string
	RecentActionWindow time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval:      time.Minute,
		DefaultDismissHrs:  24,
		RecentActionWindow: 24 * time.Hour,
	}
}

// Engine owns the alert lifecycle. Acknowledged state is advisory:
// acknowledged alerts stay active until dismissed or expired.
type Engine struct {
	cfg    Config
	db     core.AlertStore
	logs   *logstore.Store
	bus    *events.EventBus
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]*core.Alert
	rules  map[string]*core.AlertRule

	sweep      *tasks.Loop
	sweepGroup singleflight.Group

	watcher *ruleWatcher
}

// New creates an alert engine. Call Restore before Start to reload
// persisted state.
func New(db core.AlertStore, logs *logstore.Store, bus *events.EventBus, logger *slog.Logger, cfg Config) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DefaultDismissHrs <= 0 {
		cfg.DefaultDismissHrs = 24
	}
	if cfg.RecentActionWindow <= 0 {
		cfg.RecentActionWindow = 24 * time.Hour
	}
	e := &Engine{
		cfg:    cfg,
		db:     db,
		logs:   logs,
		bus:    bus,
		logger: logger,
		active: make(map[string]*core.Alert),
		rules:  make(map[string]*core.AlertRule),
	}
	e.sweep = tasks.NewLoop("alert_sweep", cfg.SweepInterval, e.SweepExpired, logger)
	return e
}

// Restore reloads persisted alerts and rules, then rules from the
// operator rule file if configured. File rules override persisted ones
// with the same name.
func (e *Engine) Restore(ctx context.Context) error {
	alerts, err := e.db.ListAlerts(ctx)
	if err != nil {
		return core.ErrPersistence("loading alerts", err)
	}
	rules, err := e.db.ListRules(ctx)
	if err != nil {
		return core.ErrPersistence("loading alert rules", err)
	}

	e.mu.Lock()
	for _, a := range alerts {
		e.active[a.ID] = a
	}
	for _, r := range rules {
		e.rules[r.Name] = r
	}
	e.mu.Unlock()

	if e.cfg.RulesPath != "" {
		if err := e.loadRulesFile(ctx, e.cfg.RulesPath); err != nil {
			e.logger.Warn("rule file not loaded", "path", e.cfg.RulesPath, "error", err)
		}
	}

	e.mu.RLock()
	empty := len(e.rules) == 0
	e.mu.RUnlock()
	if empty {
		e.seedDefaultRules(ctx)
	}
	return nil
}

// Start begins the expiry sweep and, when a rule file is configured,
// the file watcher.
func (e *Engine) Start(ctx context.Context) error {
	e.sweep.Start(ctx)
	if e.cfg.RulesPath != "" {
		w, err := newRuleWatcher(e, e.cfg.RulesPath, e.logger)
		if err != nil {
			return err
		}
		e.watcher = w
		w.start(ctx)
	}
	return nil
}

// Stop halts the sweep and watcher.
func (e *Engine) Stop() {
	e.sweep.Stop()
	if e.watcher != nil {
		e.watcher.stop()
	}
}

// Option customizes one alert at creation.
type Option func(*draft)

// draft carries the alert through option application. The persistent
// flag opts out of the default auto-dismiss window.
type draft struct {
	alert      *core.Alert
	persistent bool
}

// WithModule attributes the alert to a module.
func WithModule(module string) Option {
	return func(d *draft) { d.alert.Module = module }
}

// WithWorkflow links the alert to a workflow.
func WithWorkflow(id core.WorkflowID) Option {
	return func(d *draft) { d.alert.WorkflowID = id }
}

// WithMetadata attaches free-form metadata.
func WithMetadata(md map[string]any) Option {
	return func(d *draft) { d.alert.Metadata = md }
}

// WithAutoDismiss schedules the alert to expire after hours. Zero hours
// expires at the next sweep.
func WithAutoDismiss(hours float64) Option {
	return func(d *draft) {
		d.alert.AutoDismiss = true
		exp := d.alert.Timestamp.Add(time.Duration(hours * float64(time.Hour)))
		d.alert.ExpiresAt = &exp
	}
}

// WithPersistent keeps the alert active until explicitly dismissed.
func WithPersistent() Option {
	return func(d *draft) {
		d.persistent = true
		d.alert.AutoDismiss = false
		d.alert.ExpiresAt = nil
	}
}

// Create registers a new alert and returns its id. Unknown severities
// fall back to info rather than rejecting the alert. Alerts auto-dismiss
// after the configured default window unless WithAutoDismiss sets a
// deadline or WithPersistent opts out.
func (e *Engine) Create(ctx context.Context, alertType string, severity core.AlertSeverity, title, message string, opts ...Option) string {
	if !core.ValidSeverity(severity) {
		severity = core.SeverityInfo
	}
	a := &core.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
	d := draft{alert: a}
	for _, opt := range opts {
		opt(&d)
	}
	if !d.persistent && a.ExpiresAt == nil {
		a.AutoDismiss = true
		exp := a.Timestamp.Add(time.Duration(e.cfg.DefaultDismissHrs * float64(time.Hour)))
		a.ExpiresAt = &exp
	}

	e.mu.Lock()
	e.active[a.ID] = a
	snapshot := *a
	e.mu.Unlock()

	if err := e.db.SaveAlert(ctx, &snapshot); err != nil {
		e.logger.Warn("alert not persisted", "alert_id", a.ID, "error", err)
	}
	if err := e.db.RecordAlertAction(ctx, &snapshot, "created", ""); err != nil {
		e.logger.Warn("alert history not recorded", "alert_id", a.ID, "error", err)
	}
	e.audit(ctx, &snapshot, auditLevel(severity), "alert created")
	e.publish(events.TypeAlertCreated, &snapshot, "")
	return a.ID
}

// RaiseSystemAlert implements the threshold alert sink for the metrics
// collector.
func (e *Engine) RaiseSystemAlert(ctx context.Context, severity core.AlertSeverity, title, message string, metadata map[string]any) string {
	return e.Create(ctx, "system", severity, title, message,
		WithModule("metrics_collector"), WithMetadata(metadata))
}

// Acknowledge marks an alert acknowledged by actor. Returns false for
// unknown or already expired alerts. Repeat calls are last-write-wins.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) bool {
	e.mu.Lock()
	a, ok := e.active[id]
	if !ok || a.Expired(time.Now()) {
		e.mu.Unlock()
		return false
	}
	a.Acknowledge(actor)
	snapshot := *a
	e.mu.Unlock()

	if err := e.db.SaveAlert(ctx, &snapshot); err != nil {
		e.logger.Warn("alert not persisted", "alert_id", id, "error", err)
	}
	if err := e.db.RecordAlertAction(ctx, &snapshot, "acknowledged", actor); err != nil {
		e.logger.Warn("alert history not recorded", "alert_id", id, "error", err)
	}
	e.audit(ctx, &snapshot, core.LevelInfo, "alert acknowledged")
	e.publish(events.TypeAlertAcknowledged, &snapshot, actor)
	return true
}

// Dismiss removes an alert permanently. Returns false for unknown or
// already expired alerts.
func (e *Engine) Dismiss(ctx context.Context, id, actor string) bool {
	e.mu.Lock()
	a, ok := e.active[id]
	if !ok || a.Expired(time.Now()) {
		e.mu.Unlock()
		return false
	}
	delete(e.active, id)
	snapshot := *a
	e.mu.Unlock()

	if err := e.db.RecordAlertAction(ctx, &snapshot, "dismissed", actor); err != nil {
		e.logger.Warn("alert history not recorded", "alert_id", id, "error", err)
	}
	if err := e.db.DeleteAlert(ctx, id); err != nil {
		e.logger.Warn("alert not deleted", "alert_id", id, "error", err)
	}
	e.audit(ctx, &snapshot, core.LevelInfo, "alert dismissed")
	e.publish(events.TypeAlertDismissed, &snapshot, actor)
	return true
}

// Filter narrows the active alert listing. Zero values match everything.
type Filter struct {
	Severity core.AlertSeverity
	Type     string
	Module   string
}

// Active returns copies of non-expired alerts matching the filter,
// newest first.
func (e *Engine) Active(f Filter) []*core.Alert {
	now := time.Now()

	e.mu.RLock()
	out := make([]*core.Alert, 0, len(e.active))
	for _, a := range e.active {
		if a.Expired(now) {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Module != "" && a.Module != f.Module {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// ActiveCount returns the number of non-expired alerts.
func (e *Engine) ActiveCount() int {
	now := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, a := range e.active {
		if !a.Expired(now) {
			n++
		}
	}
	return n
}

// Summary is the aggregate alert overview for the dashboard.
type Summary struct {
	TotalActive    int                        `json:"total_active"`
	Acknowledged   int                        `json:"acknowledged"`
	Unacknowledged int                        `json:"unacknowledged"`
	BySeverity     map[core.AlertSeverity]int `json:"by_severity"`
	ByType         map[string]int             `json:"by_type"`
	ByModule       map[string]int             `json:"by_module"`
	RecentActions  int64                      `json:"recent_actions"`
}

// Summary aggregates the active set plus recent history activity.
func (e *Engine) Summary(ctx context.Context) Summary {
	now := time.Now()
	s := Summary{
		BySeverity: make(map[core.AlertSeverity]int),
		ByType:     make(map[string]int),
		ByModule:   make(map[string]int),
	}

	e.mu.RLock()
	for _, a := range e.active {
		if a.Expired(now) {
			continue
		}
		s.TotalActive++
		if a.Acknowledged {
			s.Acknowledged++
		} else {
			s.Unacknowledged++
		}
		s.BySeverity[a.Severity]++
		s.ByType[a.Type]++
		if a.Module != "" {
			s.ByModule[a.Module]++
		}
	}
	e.mu.RUnlock()

	since := now.Add(-e.cfg.RecentActionWindow)
	if n, err := e.db.CountAlertActionsSince(ctx, since); err == nil {
		s.RecentActions = n
	}
	return s
}

// History returns recent lifecycle actions, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*core.AlertAction, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.db.AlertHistory(ctx, limit)
}

// AddRule validates and registers an operator rule, persisting it and
// rewriting the rule file when one is configured.
func (e *Engine) AddRule(ctx context.Context, rule *core.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.rules[rule.Name] = rule
	e.mu.Unlock()

	if err := e.db.SaveRule(ctx, rule); err != nil {
		return core.ErrPersistence("saving alert rule", err)
	}
	if e.cfg.RulesPath != "" {
		if err := e.saveRulesFile(e.cfg.RulesPath); err != nil {
			e.logger.Warn("rule file not written", "path", e.cfg.RulesPath, "error", err)
		}
	}
	if e.logs != nil {
		e.logs.Log(ctx, module, core.LevelInfo, "alert rule registered",
			logstore.WithContext(map[string]any{"rule": rule.Name, "kind": string(rule.Condition.Kind)}))
	}
	return nil
}

// Rules returns copies of the registered rules, sorted by name.
func (e *Engine) Rules() []*core.AlertRule {
	e.mu.RLock()
	out := make([]*core.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		cp := *r
		out = append(out, &cp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate runs every enabled rule against one telemetry snapshot and
// creates an alert per satisfied rule. Evaluation is stateless: the same
// snapshot evaluated twice produces alerts twice.
func (e *Engine) Evaluate(ctx context.Context, in core.RuleInput) []string {
	e.mu.RLock()
	rules := make([]*core.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			cp := *r
			rules = append(rules, &cp)
		}
	}
	e.mu.RUnlock()

	var created []string
	for _, r := range rules {
		if !r.Condition.Matches(in) {
			continue
		}
		opts := []Option{
			WithMetadata(map[string]any{"rule": r.Name}),
		}
		if in.Module != "" {
			opts = append(opts, WithModule(in.Module))
		}
		if in.WorkflowID != "" {
			opts = append(opts, WithWorkflow(in.WorkflowID))
		}
		if r.Action.AutoDismiss {
			opts = append(opts, WithAutoDismiss(r.Action.DismissAfterHours))
		} else {
			opts = append(opts, WithPersistent())
		}
		id := e.Create(ctx, string(r.Type), r.Action.Severity,
			"rule "+r.Name+" triggered", "condition satisfied by telemetry snapshot", opts...)
		created = append(created, id)
	}
	return created
}

// SweepExpired removes alerts whose auto-dismiss deadline has passed.
// Single-flight and idempotent.
func (e *Engine) SweepExpired(ctx context.Context) error {
	_, err, _ := e.sweepGroup.Do("sweep", func() (any, error) {
		now := time.Now()

		e.mu.Lock()
		var expired []*core.Alert
		for id, a := range e.active {
			if a.Expired(now) {
				delete(e.active, id)
				cp := *a
				expired = append(expired, &cp)
			}
		}
		e.mu.Unlock()

		for _, a := range expired {
			if err := e.db.RecordAlertAction(ctx, a, "expired", ""); err != nil {
				e.logger.Warn("alert history not recorded", "alert_id", a.ID, "error", err)
			}
			if err := e.db.DeleteAlert(ctx, a.ID); err != nil {
				e.logger.Warn("alert not deleted", "alert_id", a.ID, "error", err)
			}
			e.publish(events.TypeAlertExpired, a, "")
		}
		if len(expired) > 0 {
			e.logger.Info("alert expiry sweep", "expired", len(expired))
		}
		return len(expired), nil
	})
	return err
}

func (e *Engine) audit(ctx context.Context, a *core.Alert, level core.LogLevel, msg string) {
	if e.logs == nil {
		return
	}
	opts := []logstore.Option{
		logstore.WithContext(map[string]any{
			"alert_id": a.ID,
			"severity": string(a.Severity),
			"type":     a.Type,
		}),
	}
	if a.WorkflowID != "" {
		opts = append(opts, logstore.WithWorkflow(a.WorkflowID, ""))
	}
	e.logs.Log(ctx, module, level, msg, opts...)
}

// publish fans out the lifecycle change; critical alerts use the
// priority path.
func (e *Engine) publish(eventType string, a *core.Alert, actor string) {
	if e.bus == nil {
		return
	}
	ev := events.NewAlertEvent(eventType, a, actor)
	if a.Severity == core.SeverityCritical && eventType == events.TypeAlertCreated {
		e.bus.PublishPriority(ev)
		return
	}
	e.bus.Publish(ev)
}

func auditLevel(severity core.AlertSeverity) core.LogLevel {
	switch severity {
	case core.SeverityCritical:
		return core.LevelCritical
	case core.SeverityError:
		return core.LevelError
	case core.SeverityWarning:
		return core.LevelWarning
	default:
		return core.LevelInfo
	}
}

// Health reports the sweep loop status.
type Health struct {
	Sweep    tasks.Status `json:"sweep"`
	Degraded bool         `json:"degraded"`
}

// Health returns the component health for the dashboard.
func (e *Engine) Health() Health {
	st := e.sweep.Status()
	return Health{Sweep: st, Degraded: !st.Healthy}
}
