// Package registry persists operator-registered remote targets and tracks
// their approval lifecycle. The executor only ever asks one question of it:
// which target is active right now.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/cache"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

var (
	// ErrNotFound signals an unknown target id.
	ErrNotFound = errors.New("target not found")
	// ErrInvalidTransition signals a lifecycle move the registry forbids.
	ErrInvalidTransition = errors.New("invalid target status transition")
	// ErrDuplicateService signals a service name that is already registered.
	ErrDuplicateService = errors.New("service already registered")
)

const activeTargetKey = "registry:active_target"

const schema = `
CREATE TABLE IF NOT EXISTS remote_targets (
	id TEXT PRIMARY KEY,
	service_name TEXT NOT NULL UNIQUE,
	monitor_url TEXT NOT NULL,
	scale_url TEXT NOT NULL,
	rollback_url TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_remote_targets_status ON remote_targets(status);
`

// RegisterInput carries the fields an operator submits for a new target.
type RegisterInput struct {
	ServiceName string
	MonitorURL  string
	ScaleURL    string
	RollbackURL string
	APIKey      string
}

// Registry is the persisted target store. Active-target reads go through the
// cache provider with a small TTL; every mutation invalidates it.
type Registry struct {
	db        *sql.DB
	cache     cache.Provider
	activeTTL time.Duration
	recorder  audit.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// Open connects to the database, initialises the schema and returns the
// registry.
func Open(driver, dsn string, cacheProvider cache.Provider, activeTTL time.Duration, recorder audit.Recorder, logger *slog.Logger) (*Registry, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	if dsn == "" {
		return nil, fmt.Errorf("registry DSN not configured")
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init registry schema: %w", err)
	}

	return &Registry{
		db:        db,
		cache:     cacheProvider,
		activeTTL: activeTTL,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Close releases the database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register stores a new target in the pending state.
func (r *Registry) Register(ctx context.Context, input RegisterInput) (models.RemoteTarget, error) {
	name := strings.TrimSpace(input.ServiceName)
	if name == "" {
		return models.RemoteTarget{}, fmt.Errorf("service name is required")
	}
	if strings.TrimSpace(input.MonitorURL) == "" || strings.TrimSpace(input.ScaleURL) == "" || strings.TrimSpace(input.RollbackURL) == "" {
		return models.RemoteTarget{}, fmt.Errorf("monitor, scale and rollback URLs are required")
	}

	var existing int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM remote_targets WHERE service_name = ?`, name).Scan(&existing); err != nil {
		return models.RemoteTarget{}, fmt.Errorf("check service name: %w", err)
	}
	if existing > 0 {
		return models.RemoteTarget{}, ErrDuplicateService
	}

	now := r.now().UTC()
	target := models.RemoteTarget{
		ID:          uuid.NewString(),
		ServiceName: name,
		MonitorURL:  strings.TrimSpace(input.MonitorURL),
		ScaleURL:    strings.TrimSpace(input.ScaleURL),
		RollbackURL: strings.TrimSpace(input.RollbackURL),
		APIKey:      input.APIKey,
		Status:      models.TargetPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO remote_targets (id, service_name, monitor_url, scale_url, rollback_url, api_key, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		target.ID, target.ServiceName, target.MonitorURL, target.ScaleURL, target.RollbackURL,
		target.APIKey, string(target.Status), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.RemoteTarget{}, fmt.Errorf("insert target: %w", err)
	}

	r.record("target registered", map[string]any{"target_id": target.ID, "service": target.ServiceName})
	return target, nil
}

// Get returns the target with the given id.
func (r *Registry) Get(ctx context.Context, id string) (models.RemoteTarget, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, service_name, monitor_url, scale_url, rollback_url, api_key, status, created_at, updated_at
		 FROM remote_targets WHERE id = ?`, id)
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RemoteTarget{}, ErrNotFound
	}
	return target, err
}

// List returns all targets, newest registration first.
func (r *Registry) List(ctx context.Context) ([]models.RemoteTarget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, service_name, monitor_url, scale_url, rollback_url, api_key, status, created_at, updated_at
		 FROM remote_targets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	targets := make([]models.RemoteTarget, 0)
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// Approve moves a pending target to approved.
func (r *Registry) Approve(ctx context.Context, id string) (models.RemoteTarget, error) {
	return r.transition(ctx, id, models.TargetApproved, models.TargetPending)
}

// Reject retires a pending or approved target. An active target must be
// demoted by activating another one first.
func (r *Registry) Reject(ctx context.Context, id string) (models.RemoteTarget, error) {
	return r.transition(ctx, id, models.TargetRejected, models.TargetPending, models.TargetApproved)
}

// Activate promotes an approved target to active, demoting any currently
// active target to approved in the same transaction. At most one target is
// active at a time.
func (r *Registry) Activate(ctx context.Context, id string) (models.RemoteTarget, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RemoteTarget{}, fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC().Format(time.RFC3339Nano)

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM remote_targets WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RemoteTarget{}, ErrNotFound
	}
	if err != nil {
		return models.RemoteTarget{}, fmt.Errorf("read target status: %w", err)
	}
	if models.TargetStatus(current) != models.TargetApproved {
		return models.RemoteTarget{}, fmt.Errorf("%w: cannot activate a %s target", ErrInvalidTransition, current)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE remote_targets SET status = ?, updated_at = ? WHERE status = ?`,
		string(models.TargetApproved), now, string(models.TargetActive)); err != nil {
		return models.RemoteTarget{}, fmt.Errorf("demote active target: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE remote_targets SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.TargetActive), now, id); err != nil {
		return models.RemoteTarget{}, fmt.Errorf("activate target: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.RemoteTarget{}, fmt.Errorf("commit activate: %w", err)
	}

	r.invalidateActive(ctx)

	target, err := r.Get(ctx, id)
	if err != nil {
		return models.RemoteTarget{}, err
	}
	r.record("target activated", map[string]any{"target_id": target.ID, "service": target.ServiceName})
	return target, nil
}

// Active returns the currently active target, or nil when none is. This is
// the one read the remediation core depends on, so it is served from cache
// within the configured TTL.
func (r *Registry) Active(ctx context.Context) (*models.RemoteTarget, error) {
	if data, err := r.cache.Get(ctx, activeTargetKey); err == nil {
		var target models.RemoteTarget
		if jsonErr := json.Unmarshal(data, &target); jsonErr == nil {
			if target.ID == "" {
				return nil, nil
			}
			return &target, nil
		}
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, service_name, monitor_url, scale_url, rollback_url, api_key, status, created_at, updated_at
		 FROM remote_targets WHERE status = ? LIMIT 1`, string(models.TargetActive))
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		r.cacheActive(ctx, models.RemoteTarget{})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.cacheActive(ctx, target)
	return &target, nil
}

func (r *Registry) transition(ctx context.Context, id string, to models.TargetStatus, from ...models.TargetStatus) (models.RemoteTarget, error) {
	target, err := r.Get(ctx, id)
	if err != nil {
		return models.RemoteTarget{}, err
	}

	allowed := false
	for _, status := range from {
		if target.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.RemoteTarget{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, target.Status, to)
	}

	now := r.now().UTC()
	if _, err := r.db.ExecContext(ctx,
		`UPDATE remote_targets SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), now.Format(time.RFC3339Nano), id); err != nil {
		return models.RemoteTarget{}, fmt.Errorf("update target status: %w", err)
	}

	r.invalidateActive(ctx)
	target.Status = to
	target.UpdatedAt = now

	r.record("target status changed", map[string]any{
		"target_id": target.ID,
		"service":   target.ServiceName,
		"status":    string(to),
	})
	return target, nil
}

func (r *Registry) cacheActive(ctx context.Context, target models.RemoteTarget) {
	if r.activeTTL <= 0 {
		return
	}
	data, err := json.Marshal(target)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, activeTargetKey, data, r.activeTTL); err != nil {
		r.logger.Debug("cache active target", slog.Any("error", err))
	}
}

func (r *Registry) invalidateActive(ctx context.Context) {
	if err := r.cache.Del(ctx, activeTargetKey); err != nil {
		r.logger.Debug("invalidate active target cache", slog.Any("error", err))
	}
}

func (r *Registry) record(message string, details map[string]any) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(audit.Event{
		Time:     r.now(),
		Category: audit.CategoryRegistry,
		Severity: audit.SeverityInfo,
		Message:  message,
		Details:  details,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (models.RemoteTarget, error) {
	var target models.RemoteTarget
	var status, createdAt, updatedAt string
	if err := row.Scan(
		&target.ID, &target.ServiceName, &target.MonitorURL, &target.ScaleURL,
		&target.RollbackURL, &target.APIKey, &status, &createdAt, &updatedAt,
	); err != nil {
		return models.RemoteTarget{}, err
	}
	target.Status = models.TargetStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		target.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		target.UpdatedAt = t
	}
	return target, nil
}
