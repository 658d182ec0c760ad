package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

// rulesDocument is the on-disk shape of the operator rule file.
type rulesDocument struct {
	Rules []*core.AlertRule `yaml:"rules"`
}

// defaultRules are seeded on first start, when neither the store nor the
// rule file has any rules yet.
func defaultRules() []*core.AlertRule {
	return []*core.AlertRule{
		{
			Name: "workflow-consecutive-failures",
			Type: core.RuleTypeWorkflow,
			Condition: core.RuleCondition{
				Kind:                core.RuleTypeWorkflow,
				Status:              core.WorkflowStatusFailed,
				ConsecutiveFailures: 3,
			},
			Action:  core.RuleAction{Severity: core.SeverityError, AutoDismiss: true, DismissAfterHours: 24},
			Enabled: true,
		},
		{
			Name: "sustained-high-cpu",
			Type: core.RuleTypePerformance,
			Condition: core.RuleCondition{
				Kind:      core.RuleTypePerformance,
				Metric:    "cpu_percent",
				Threshold: 90,
			},
			Action:  core.RuleAction{Severity: core.SeverityWarning, AutoDismiss: true, DismissAfterHours: 1},
			Enabled: true,
		},
	}
}

// seedDefaultRules registers the built-in rules, persisting them and
// writing the rule file when one is configured.
func (e *Engine) seedDefaultRules(ctx context.Context) {
	for _, r := range defaultRules() {
		e.mu.Lock()
		e.rules[r.Name] = r
		e.mu.Unlock()
		if err := e.db.SaveRule(ctx, r); err != nil {
			e.logger.Warn("default rule not persisted", "rule", r.Name, "error", err)
		}
	}
	if e.cfg.RulesPath != "" {
		if err := e.saveRulesFile(e.cfg.RulesPath); err != nil {
			e.logger.Warn("rule file not written", "path", e.cfg.RulesPath, "error", err)
		}
	}
	e.logger.Info("default alert rules seeded", "count", len(defaultRules()))
}

// loadRulesFile reads, validates and registers rules from path. A
// missing file is not an error; a malformed rule is skipped with a
// warning so one bad entry cannot take down the engine.
func (e *Engine) loadRulesFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading rule file: %w", err)
	}

	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing rule file: %w", err)
	}

	loaded := 0
	for _, r := range doc.Rules {
		if err := r.Validate(); err != nil {
			e.logger.Warn("rule file entry skipped", "rule", r.Name, "error", err)
			continue
		}
		e.mu.Lock()
		e.rules[r.Name] = r
		e.mu.Unlock()
		if err := e.db.SaveRule(ctx, r); err != nil {
			e.logger.Warn("rule not persisted", "rule", r.Name, "error", err)
		}
		loaded++
	}
	e.logger.Info("alert rules loaded", "path", path, "count", loaded)
	return nil
}

// saveRulesFile writes the registered rules atomically so a crashed
// write never leaves a truncated file behind.
func (e *Engine) saveRulesFile(path string) error {
	doc := rulesDocument{Rules: e.Rules()}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating rules dir: %w", err)
		}
	}
	return renameio.WriteFile(path, data, 0o644)
}

// ruleWatcher reloads the rule file when it changes on disk. Editors
// and atomic writers emit bursts of events, so reloads are debounced.
type ruleWatcher struct {
	engine  *Engine
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

func newRuleWatcher(engine *Engine, path string, logger *slog.Logger) (*ruleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating rule watcher: %w", err)
	}
	// Watch the directory: atomic replaces swap the file inode, and a
	// watch on the old inode would go stale.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &ruleWatcher{
		engine:  engine,
		path:    path,
		logger:  logger,
		watcher: w,
		stopCh:  make(chan struct{}),
	}, nil
}

func (rw *ruleWatcher) start(ctx context.Context) {
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case <-rw.stopCh:
				return
			case ev, ok := <-rw.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(rw.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					if err := rw.engine.loadRulesFile(ctx, rw.path); err != nil {
						rw.logger.Warn("rule file reload failed", "error", err)
					}
				})
			case err, ok := <-rw.watcher.Errors:
				if !ok {
					return
				}
				rw.logger.Warn("rule watcher error", "error", err)
			}
		}
	}()
}

func (rw *ruleWatcher) stop() {
	close(rw.stopCh)
	rw.watcher.Close()
}
