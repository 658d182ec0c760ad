// Package storage provides the durable SQLite store shared by every
// component. Each component owns a disjoint table family, so contention
// is limited to SQLite's own concurrency control.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store implements the core store ports on a single SQLite database
// opened in WAL mode, so sweeps can delete aged rows while writers
// append.
type Store struct {
	dbPath string
	db     *sql.DB
}

// Open creates the database (and parent directory) if needed and runs
// pending migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// LogStore

// InsertLog appends one log record.
func (s *Store) InsertLog(ctx context.Context, rec *core.LogRecord) error {
	contextJSON, err := marshalMap(rec.Context)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	metadataJSON, err := marshalMap(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO log_records (
			id, timestamp, module, level, message, workflow_id, step_id,
			duration_ms, status, context, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Timestamp, rec.Module, string(rec.Level), rec.Message,
		nullableString([]byte(rec.WorkflowID)), nullableString([]byte(rec.StepID)),
		rec.DurationMS, nullableString([]byte(rec.Status)),
		nullableString(contextJSON), nullableString(metadataJSON),
	)
	if err != nil {
		return core.ErrPersistence("inserting log record", err)
	}
	return nil
}

// QueryLogs returns records newest first, bounded by limit.
func (s *Store) QueryLogs(ctx context.Context, limit int, module string, level core.LogLevel) ([]*core.LogRecord, error) {
	query := `
		SELECT id, timestamp, module, level, message, workflow_id, step_id,
		       duration_ms, status, context, metadata
		FROM log_records WHERE 1=1`
	args := make([]any, 0, 3)
	if module != "" {
		query += " AND module = ?"
		args = append(args, module)
	}
	if level != "" {
		query += " AND level = ?"
		args = append(args, string(level))
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrPersistence("querying log records", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*core.LogRecord
	for rows.Next() {
		var rec core.LogRecord
		var workflowID, stepID, status, contextJSON, metadataJSON sql.NullString
		var durationMS sql.NullFloat64
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Module, &rec.Level, &rec.Message,
			&workflowID, &stepID, &durationMS, &status, &contextJSON, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning log record: %w", err)
		}
		rec.WorkflowID = workflowID.String
		rec.StepID = stepID.String
		rec.Status = status.String
		rec.DurationMS = durationMS.Float64
		if rec.Context, err = unmarshalMap(contextJSON); err != nil {
			return nil, fmt.Errorf("unmarshaling context: %w", err)
		}
		if rec.Metadata, err = unmarshalMap(metadataJSON); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// DeleteLogsBefore removes records older than cutoff.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM log_records WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, core.ErrPersistence("deleting aged log records", err)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// WorkflowStore

// SaveWorkflow upserts the workflow row and replaces its steps in one
// transaction.
func (s *Store) SaveWorkflow(ctx context.Context, wf *core.Workflow) error {
	metadataJSON, err := marshalMap(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling workflow metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrPersistence("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (
			id, type, status, total_steps, completed_steps, failed_steps,
			total_duration_ms, error, metadata, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_steps = excluded.total_steps,
			completed_steps = excluded.completed_steps,
			failed_steps = excluded.failed_steps,
			total_duration_ms = excluded.total_duration_ms,
			error = excluded.error,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		string(wf.ID), wf.Type, string(wf.Status), wf.TotalSteps, wf.CompletedSteps,
		wf.FailedSteps, wf.TotalDurationMS, nullableString([]byte(wf.Error)),
		nullableString(metadataJSON), wf.CreatedAt,
		nullableTime(wf.StartedAt), nullableTime(wf.CompletedAt),
	)
	if err != nil {
		return core.ErrPersistence("upserting workflow", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = ?", string(wf.ID)); err != nil {
		return core.ErrPersistence("deleting existing steps", err)
	}
	for i, step := range wf.Steps {
		if err := insertStep(ctx, tx, wf.ID, i, step); err != nil {
			return core.ErrPersistence(fmt.Sprintf("inserting step %s", step.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.ErrPersistence("committing transaction", err)
	}
	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, workflowID core.WorkflowID, seq int, step *core.WorkflowStep) error {
	logsJSON, err := marshalSlice(step.Logs)
	if err != nil {
		return fmt.Errorf("marshaling step logs: %w", err)
	}
	metadataJSON, err := marshalMap(step.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling step metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (
			id, workflow_id, seq, name, module, status, duration_ms,
			error, logs, metadata, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(step.ID), string(workflowID), seq, step.Name, step.Module,
		string(step.Status), step.DurationMS, nullableString([]byte(step.Error)),
		nullableString(logsJSON), nullableString(metadataJSON),
		nullableTime(step.StartedAt), nullableTime(step.CompletedAt),
	)
	return err
}

// LoadWorkflow retrieves one workflow with its steps, nil if unknown.
func (s *Store) LoadWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, total_steps, completed_steps, failed_steps,
		       total_duration_ms, error, metadata, created_at, started_at, completed_at
		FROM workflows WHERE id = ?
	`, string(id))

	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, core.ErrPersistence("loading workflow", err)
	}
	if err := s.loadSteps(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// ListWorkflows returns workflows most recent first, with steps.
func (s *Store) ListWorkflows(ctx context.Context, statuses []core.WorkflowStatus, limit int) ([]*core.Workflow, error) {
	query := `
		SELECT id, type, status, total_steps, completed_steps, failed_steps,
		       total_duration_ms, error, metadata, created_at, started_at, completed_at
		FROM workflows`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += " WHERE status IN (?" + repeatPlaceholders(len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrPersistence("listing workflows", err)
	}
	defer func() { _ = rows.Close() }()

	var workflows []*core.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, wf := range workflows {
		if err := s.loadSteps(ctx, wf); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*core.Workflow, error) {
	var wf core.Workflow
	var errMsg, metadataJSON sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&wf.ID, &wf.Type, &wf.Status, &wf.TotalSteps, &wf.CompletedSteps,
		&wf.FailedSteps, &wf.TotalDurationMS, &errMsg, &metadataJSON,
		&wf.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.Error = errMsg.String
	if wf.Metadata, err = unmarshalMap(metadataJSON); err != nil {
		return nil, err
	}
	wf.StartedAt = timePtr(startedAt)
	wf.CompletedAt = timePtr(completedAt)
	wf.Steps = make([]*core.WorkflowStep, 0)
	return &wf, nil
}

func (s *Store) loadSteps(ctx context.Context, wf *core.Workflow) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, module, status, duration_ms, error, logs, metadata,
		       started_at, completed_at
		FROM workflow_steps WHERE workflow_id = ? ORDER BY seq
	`, string(wf.ID))
	if err != nil {
		return core.ErrPersistence("loading workflow steps", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var step core.WorkflowStep
		var errMsg, logsJSON, metadataJSON sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&step.ID, &step.Name, &step.Module, &step.Status, &step.DurationMS,
			&errMsg, &logsJSON, &metadataJSON, &startedAt, &completedAt,
		); err != nil {
			return fmt.Errorf("scanning step: %w", err)
		}
		step.Error = errMsg.String
		if step.Logs, err = unmarshalSlice(logsJSON); err != nil {
			return err
		}
		if step.Metadata, err = unmarshalMap(metadataJSON); err != nil {
			return err
		}
		step.StartedAt = timePtr(startedAt)
		step.CompletedAt = timePtr(completedAt)
		wf.Steps = append(wf.Steps, &step)
	}
	return rows.Err()
}

// DeleteWorkflowsBefore removes terminal workflows completed before
// cutoff. Steps cascade.
func (s *Store) DeleteWorkflowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflows
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, core.ErrPersistence("deleting aged workflows", err)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// MetricsStore

// InsertSystemSample appends one system snapshot.
func (s *Store) InsertSystemSample(ctx context.Context, sample *core.SystemMetricsSample) error {
	var gpusJSON []byte
	if len(sample.GPUs) > 0 {
		var err error
		gpusJSON, err = json.Marshal(sample.GPUs)
		if err != nil {
			return fmt.Errorf("marshaling gpus: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metrics (
			timestamp, cpu_percent, mem_used_mb, mem_total_mb, mem_percent,
			disk_used_gb, disk_total_gb, disk_percent, net_bytes_sent,
			net_bytes_recv, process_count, load_avg_1, load_avg_5, load_avg_15, gpus
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sample.Timestamp, sample.CPUPercent, sample.MemUsedMB, sample.MemTotalMB,
		sample.MemPercent, sample.DiskUsedGB, sample.DiskTotalGB, sample.DiskPercent,
		int64(sample.NetBytesSent), int64(sample.NetBytesRecv), sample.ProcessCount,
		sample.LoadAvg1, sample.LoadAvg5, sample.LoadAvg15, nullableString(gpusJSON),
	)
	if err != nil {
		return core.ErrPersistence("inserting system sample", err)
	}
	return nil
}

// InsertModuleSample appends one operation record.
func (s *Store) InsertModuleSample(ctx context.Context, sample *core.ModuleMetricsSample) error {
	metadataJSON, err := marshalMap(sample.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_metrics (
			timestamp, module, operation, duration_ms, memory_mb, cpu_percent, status, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sample.Timestamp, sample.Module, sample.Operation, sample.DurationMS,
		sample.MemoryMB, sample.CPUPercent, sample.Status, nullableString(metadataJSON),
	)
	if err != nil {
		return core.ErrPersistence("inserting module sample", err)
	}
	return nil
}

// SystemSamplesSince returns samples newer than since, descending time.
func (s *Store) SystemSamplesSince(ctx context.Context, since time.Time, limit int) ([]*core.SystemMetricsSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, cpu_percent, mem_used_mb, mem_total_mb, mem_percent,
		       disk_used_gb, disk_total_gb, disk_percent, net_bytes_sent,
		       net_bytes_recv, process_count, load_avg_1, load_avg_5, load_avg_15, gpus
		FROM system_metrics WHERE timestamp > ?
		ORDER BY timestamp DESC LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, core.ErrPersistence("querying system samples", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []*core.SystemMetricsSample
	for rows.Next() {
		var sample core.SystemMetricsSample
		var sent, recv int64
		var gpusJSON sql.NullString
		if err := rows.Scan(
			&sample.Timestamp, &sample.CPUPercent, &sample.MemUsedMB, &sample.MemTotalMB,
			&sample.MemPercent, &sample.DiskUsedGB, &sample.DiskTotalGB, &sample.DiskPercent,
			&sent, &recv, &sample.ProcessCount,
			&sample.LoadAvg1, &sample.LoadAvg5, &sample.LoadAvg15, &gpusJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning system sample: %w", err)
		}
		sample.NetBytesSent = uint64(sent)
		sample.NetBytesRecv = uint64(recv)
		if gpusJSON.Valid && gpusJSON.String != "" {
			if err := json.Unmarshal([]byte(gpusJSON.String), &sample.GPUs); err != nil {
				return nil, fmt.Errorf("unmarshaling gpus: %w", err)
			}
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// ModuleSamplesSince returns module samples newer than since, descending
// time. Empty module matches all modules.
func (s *Store) ModuleSamplesSince(ctx context.Context, module string, since time.Time, limit int) ([]*core.ModuleMetricsSample, error) {
	query := `
		SELECT timestamp, module, operation, duration_ms, memory_mb, cpu_percent, status, metadata
		FROM module_metrics WHERE timestamp > ?`
	args := []any{since}
	if module != "" {
		query += " AND module = ?"
		args = append(args, module)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.ErrPersistence("querying module samples", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []*core.ModuleMetricsSample
	for rows.Next() {
		var sample core.ModuleMetricsSample
		var metadataJSON sql.NullString
		if err := rows.Scan(
			&sample.Timestamp, &sample.Module, &sample.Operation, &sample.DurationMS,
			&sample.MemoryMB, &sample.CPUPercent, &sample.Status, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning module sample: %w", err)
		}
		if sample.Metadata, err = unmarshalMap(metadataJSON); err != nil {
			return nil, err
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// DeleteMetricsBefore removes samples from both metric tables older than
// cutoff.
func (s *Store) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	res, err := s.db.ExecContext(ctx, "DELETE FROM system_metrics WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, core.ErrPersistence("deleting aged system samples", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, "DELETE FROM module_metrics WHERE timestamp < ?", cutoff)
	if err != nil {
		return total, core.ErrPersistence("deleting aged module samples", err)
	}
	n, _ = res.RowsAffected()
	return total + n, nil
}

// ---------------------------------------------------------------------------
// AlertStore

// SaveAlert upserts one alert.
func (s *Store) SaveAlert(ctx context.Context, a *core.Alert) error {
	metadataJSON, err := marshalMap(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling alert metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, type, severity, title, message, timestamp, module, workflow_id,
			metadata, acknowledged, acknowledged_by, acknowledged_at, auto_dismiss, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			acknowledged = excluded.acknowledged,
			acknowledged_by = excluded.acknowledged_by,
			acknowledged_at = excluded.acknowledged_at,
			metadata = excluded.metadata
	`,
		a.ID, a.Type, string(a.Severity), a.Title, a.Message, a.Timestamp,
		nullableString([]byte(a.Module)), nullableString([]byte(a.WorkflowID)),
		nullableString(metadataJSON), boolInt(a.Acknowledged),
		nullableString([]byte(a.AcknowledgedBy)), nullableTime(a.AcknowledgedAt),
		boolInt(a.AutoDismiss), nullableTime(a.ExpiresAt),
	)
	if err != nil {
		return core.ErrPersistence("upserting alert", err)
	}
	return nil
}

// DeleteAlert removes one alert row.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id); err != nil {
		return core.ErrPersistence("deleting alert", err)
	}
	return nil
}

// ListAlerts returns every persisted alert, newest first.
func (s *Store) ListAlerts(ctx context.Context) ([]*core.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, title, message, timestamp, module, workflow_id,
		       metadata, acknowledged, acknowledged_by, acknowledged_at, auto_dismiss, expires_at
		FROM alerts ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, core.ErrPersistence("listing alerts", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*core.Alert
	for rows.Next() {
		var a core.Alert
		var module, workflowID, metadataJSON, ackBy sql.NullString
		var acknowledged, autoDismiss int
		var ackAt, expiresAt sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.Type, &a.Severity, &a.Title, &a.Message, &a.Timestamp,
			&module, &workflowID, &metadataJSON, &acknowledged, &ackBy,
			&ackAt, &autoDismiss, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Module = module.String
		a.WorkflowID = core.WorkflowID(workflowID.String)
		if a.Metadata, err = unmarshalMap(metadataJSON); err != nil {
			return nil, err
		}
		a.Acknowledged = acknowledged != 0
		a.AcknowledgedBy = ackBy.String
		a.AcknowledgedAt = timePtr(ackAt)
		a.AutoDismiss = autoDismiss != 0
		a.ExpiresAt = timePtr(expiresAt)
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// SaveRule upserts one operator rule.
func (s *Store) SaveRule(ctx context.Context, r *core.AlertRule) error {
	conditionJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("marshaling rule condition: %w", err)
	}
	actionJSON, err := json.Marshal(r.Action)
	if err != nil {
		return fmt.Errorf("marshaling rule action: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (name, rule_type, condition, action, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			rule_type = excluded.rule_type,
			condition = excluded.condition,
			action = excluded.action,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, r.Name, string(r.Type), string(conditionJSON), string(actionJSON), boolInt(r.Enabled), time.Now())
	if err != nil {
		return core.ErrPersistence("upserting alert rule", err)
	}
	return nil
}

// ListRules returns every persisted rule.
func (s *Store) ListRules(ctx context.Context) ([]*core.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, rule_type, condition, action, enabled FROM alert_rules ORDER BY name")
	if err != nil {
		return nil, core.ErrPersistence("listing alert rules", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*core.AlertRule
	for rows.Next() {
		var r core.AlertRule
		var conditionJSON, actionJSON string
		var enabled int
		if err := rows.Scan(&r.Name, &r.Type, &conditionJSON, &actionJSON, &enabled); err != nil {
			return nil, fmt.Errorf("scanning alert rule: %w", err)
		}
		if err := json.Unmarshal([]byte(conditionJSON), &r.Condition); err != nil {
			return nil, fmt.Errorf("unmarshaling rule condition: %w", err)
		}
		if err := json.Unmarshal([]byte(actionJSON), &r.Action); err != nil {
			return nil, fmt.Errorf("unmarshaling rule action: %w", err)
		}
		r.Enabled = enabled != 0
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// RecordAlertAction appends one row to the alert history.
func (s *Store) RecordAlertAction(ctx context.Context, a *core.Alert, action, actor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history (alert_id, action, actor, severity, title, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, action, nullableString([]byte(actor)), string(a.Severity), a.Title, time.Now())
	if err != nil {
		return core.ErrPersistence("recording alert action", err)
	}
	return nil
}

// AlertHistory returns recent history rows, newest first.
func (s *Store) AlertHistory(ctx context.Context, limit int) ([]*core.AlertAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, action, actor, severity, title, timestamp
		FROM alert_history ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, core.ErrPersistence("querying alert history", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []*core.AlertAction
	for rows.Next() {
		var act core.AlertAction
		var actor sql.NullString
		if err := rows.Scan(&act.AlertID, &act.Action, &actor, &act.Severity, &act.Title, &act.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning alert action: %w", err)
		}
		act.Actor = actor.String
		actions = append(actions, &act)
	}
	return actions, rows.Err()
}

// CountAlertActionsSince counts history rows newer than since.
func (s *Store) CountAlertActionsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_history WHERE timestamp > ?", since).Scan(&count)
	if err != nil {
		return 0, core.ErrPersistence("counting alert actions", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// helpers

func marshalMap(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalSlice(v []string) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalSlice(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
