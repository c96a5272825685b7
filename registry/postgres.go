package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aetherpro/fabric/runtime"
	"github.com/aetherpro/fabric/shared"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var _ IRegistry = (*PostgresRegistry)(nil)

// PostgresRegistry is the durable registry variant: agents, capabilities,
// tools, health history and call audit logs live in PostgreSQL. Adapters are
// process-local and rebuilt lazily from the stored manifests.
type PostgresRegistry struct {
	db     *sql.DB
	logger *zap.Logger

	mu       sync.Mutex
	adapters map[string]runtime.IRuntimeAdapter
}

func NewPostgresRegistry(databaseURL string, logger *zap.Logger) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r := &PostgresRegistry{
		db:       db,
		logger:   logger,
		adapters: make(map[string]runtime.IRuntimeAdapter),
	}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRegistry) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id     TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			version      TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			runtime_kind TEXT NOT NULL,
			transport    TEXT NOT NULL,
			endpoint_uri TEXT NOT NULL,
			tags         TEXT[] NOT NULL DEFAULT '{}',
			trust_tier   TEXT NOT NULL DEFAULT 'org',
			status       TEXT NOT NULL DEFAULT 'unknown',
			protocol     JSONB,
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS capabilities (
			agent_id       TEXT NOT NULL REFERENCES agents(agent_id) ON DELETE CASCADE,
			name           TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			streaming      BOOLEAN NOT NULL DEFAULT false,
			modalities     TEXT[] NOT NULL DEFAULT '{text}',
			input_schema   JSONB,
			output_schema  JSONB,
			max_timeout_ms INTEGER NOT NULL DEFAULT 60000,
			position       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (agent_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS tools (
			tool_id      TEXT PRIMARY KEY,
			category     TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			capabilities JSONB NOT NULL,
			provider     TEXT NOT NULL DEFAULT 'builtin'
		)`,
		`CREATE TABLE IF NOT EXISTS health_checks (
			id         BIGSERIAL PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			status     TEXT NOT NULL,
			latency_ms INTEGER,
			checked_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS call_logs (
			id           BIGSERIAL PRIMARY KEY,
			trace_id     TEXT NOT NULL,
			target_type  TEXT NOT NULL,
			target_id    TEXT NOT NULL,
			capability   TEXT,
			request      JSONB,
			response     JSONB,
			ok           BOOLEAN,
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

func (r *PostgresRegistry) Register(manifest *shared.AgentManifest) error {
	m := manifest.Clone()
	m.Normalize()
	if m.AgentID == "" {
		return shared.NewError(shared.ErrBadInput, "agent_id is required")
	}
	if m.Status == shared.StatusUnknown {
		m.Status = shared.StatusOnline
	}
	m.LastSeenAt = time.Now().UTC()

	adapter, err := runtime.New(m, r.logger)
	if err != nil {
		return shared.Errorf(shared.ErrBadInput, "cannot build adapter: %v", err)
	}

	var protocol []byte
	if m.Protocol != nil {
		protocol, _ = json.Marshal(m.Protocol)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO agents (agent_id, display_name, version, description, runtime_kind,
			transport, endpoint_uri, tags, trust_tier, status, protocol, last_seen_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (agent_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			version      = EXCLUDED.version,
			description  = EXCLUDED.description,
			runtime_kind = EXCLUDED.runtime_kind,
			transport    = EXCLUDED.transport,
			endpoint_uri = EXCLUDED.endpoint_uri,
			tags         = EXCLUDED.tags,
			trust_tier   = EXCLUDED.trust_tier,
			status       = EXCLUDED.status,
			protocol     = EXCLUDED.protocol,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at   = now()`,
		m.AgentID, m.DisplayName, m.Version, m.Description, string(m.RuntimeKind),
		string(m.Endpoint.Transport), m.Endpoint.URI, pq.Array(m.Tags),
		string(m.TrustTier), string(m.Status), protocol, m.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM capabilities WHERE agent_id = $1`, m.AgentID); err != nil {
		return fmt.Errorf("failed to clear capabilities: %w", err)
	}
	for i, cap := range m.Capabilities {
		_, err := tx.Exec(`
			INSERT INTO capabilities (agent_id, name, description, streaming, modalities,
				input_schema, output_schema, max_timeout_ms, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			m.AgentID, cap.Name, cap.Description, cap.Streaming, pq.Array(cap.Modalities),
			nullableJSON(cap.InputSchema), nullableJSON(cap.OutputSchema), cap.MaxTimeoutMs, i)
		if err != nil {
			return fmt.Errorf("failed to insert capability %s: %w", cap.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}

	r.mu.Lock()
	r.adapters[m.AgentID] = adapter
	r.mu.Unlock()

	r.logger.Info("Registered agent", zap.String("agent_id", m.AgentID))
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *PostgresRegistry) Deregister(agentID string) error {
	res, err := r.db.Exec(`DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	r.mu.Lock()
	delete(r.adapters, agentID)
	r.mu.Unlock()
	return nil
}

func (r *PostgresRegistry) Get(agentID string) (*shared.AgentManifest, error) {
	row := r.db.QueryRow(`
		SELECT agent_id, display_name, version, description, runtime_kind, transport,
			endpoint_uri, tags, trust_tier, status, protocol, last_seen_at
		FROM agents WHERE agent_id = $1`, agentID)
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	if err := r.loadCapabilities(m); err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanManifest(row rowScanner) (*shared.AgentManifest, error) {
	var m shared.AgentManifest
	var tags pq.StringArray
	var protocol []byte
	err := row.Scan(&m.AgentID, &m.DisplayName, &m.Version, &m.Description,
		&m.RuntimeKind, &m.Endpoint.Transport, &m.Endpoint.URI, &tags,
		&m.TrustTier, &m.Status, &protocol, &m.LastSeenAt)
	if err != nil {
		return nil, err
	}
	m.Tags = tags
	if len(protocol) > 0 {
		if err := json.Unmarshal(protocol, &m.Protocol); err != nil {
			return nil, fmt.Errorf("invalid protocol JSON for %s: %w", m.AgentID, err)
		}
	}
	return &m, nil
}

func (r *PostgresRegistry) loadCapabilities(m *shared.AgentManifest) error {
	rows, err := r.db.Query(`
		SELECT name, description, streaming, modalities, input_schema, output_schema, max_timeout_ms
		FROM capabilities WHERE agent_id = $1 ORDER BY position`, m.AgentID)
	if err != nil {
		return fmt.Errorf("failed to load capabilities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cap shared.CapabilityDescriptor
		var modalities pq.StringArray
		var input, output []byte
		if err := rows.Scan(&cap.Name, &cap.Description, &cap.Streaming, &modalities,
			&input, &output, &cap.MaxTimeoutMs); err != nil {
			return fmt.Errorf("failed to scan capability: %w", err)
		}
		cap.Modalities = modalities
		cap.InputSchema = input
		cap.OutputSchema = output
		m.Capabilities = append(m.Capabilities, cap)
	}
	return rows.Err()
}

func (r *PostgresRegistry) Adapter(agentID string) (runtime.IRuntimeAdapter, error) {
	r.mu.Lock()
	adapter, exists := r.adapters[agentID]
	r.mu.Unlock()
	if exists {
		return adapter, nil
	}

	// Rebuild from the stored manifest; another gateway replica may have
	// registered this agent.
	m, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	adapter, err = runtime.New(m, r.logger)
	if err != nil {
		return nil, shared.Errorf(shared.ErrInternal, "cannot build adapter for %s", agentID)
	}
	r.mu.Lock()
	r.adapters[agentID] = adapter
	r.mu.Unlock()
	return adapter, nil
}

func (r *PostgresRegistry) List(filter ListFilter) ([]*shared.AgentManifest, error) {
	rows, err := r.db.Query(`
		SELECT agent_id, display_name, version, description, runtime_kind, transport,
			endpoint_uri, tags, trust_tier, status, protocol, last_seen_at
		FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var result []*shared.AgentManifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	filtered := result[:0]
	for _, m := range result {
		if err := r.loadCapabilities(m); err != nil {
			return nil, err
		}
		if matchesFilter(m, filter) {
			filtered = append(filtered, m)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		ri, rj := shared.StatusRank(filtered[i].Status), shared.StatusRank(filtered[j].Status)
		if ri != rj {
			return ri < rj
		}
		return filtered[i].DisplayName < filtered[j].DisplayName
	})
	return filtered, nil
}

func (r *PostgresRegistry) FindByCapability(capability string) ([]CapabilityMatch, error) {
	listed, err := r.List(ListFilter{Capability: capability})
	if err != nil {
		return nil, err
	}
	matches := make([]CapabilityMatch, 0, len(listed))
	for i, m := range listed {
		matches = append(matches, CapabilityMatch{AgentID: m.AgentID, Priority: i + 1})
	}
	return matches, nil
}

func (r *PostgresRegistry) UpdateStatus(agentID string, status shared.AgentStatus, lastSeenAt time.Time) error {
	res, err := r.db.Exec(`
		UPDATE agents SET status = $2, last_seen_at = $3, updated_at = now()
		WHERE agent_id = $1 AND last_seen_at <= $3`, agentID, string(status), lastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown agent or a newer update already landed; distinguish.
		var exists bool
		if err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM agents WHERE agent_id = $1)`, agentID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check agent existence: %w", err)
		}
		if !exists {
			return shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
		}
	}
	return nil
}

func (r *PostgresRegistry) Heartbeat(agentID string) error {
	res, err := r.db.Exec(`
		UPDATE agents SET last_seen_at = GREATEST(last_seen_at, $2), updated_at = now()
		WHERE agent_id = $1`, agentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.Errorf(shared.ErrAgentNotFound, "agent not found: %s", agentID)
	}
	return nil
}

func (r *PostgresRegistry) Counts() (StatusCounts, error) {
	rows, err := r.db.Query(`SELECT status, count(*) FROM agents GROUP BY status`)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("failed to count agents: %w", err)
	}
	defer rows.Close()
	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, err
		}
		switch shared.AgentStatus(status) {
		case shared.StatusOnline:
			counts.Online = n
		case shared.StatusDegraded:
			counts.Degraded = n
		case shared.StatusOffline:
			counts.Offline = n
		}
	}
	return counts, rows.Err()
}

// SyncTools mirrors the discovered tool inventory into the tools table.
func (r *PostgresRegistry) SyncTools(descriptors []shared.ToolDescriptor) error {
	for _, d := range descriptors {
		caps, err := json.Marshal(d.Capabilities)
		if err != nil {
			return fmt.Errorf("failed to encode capabilities for %s: %w", d.ToolID, err)
		}
		_, err = r.db.Exec(`
			INSERT INTO tools (tool_id, category, description, capabilities, provider)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (tool_id) DO UPDATE SET
				category = EXCLUDED.category,
				description = EXCLUDED.description,
				capabilities = EXCLUDED.capabilities,
				provider = EXCLUDED.provider`,
			d.ToolID, d.Category, d.Description, caps, string(d.Provider))
		if err != nil {
			return fmt.Errorf("failed to upsert tool %s: %w", d.ToolID, err)
		}
	}
	return nil
}

// RecordHealthCheck appends one probe outcome to the health history table.
func (r *PostgresRegistry) RecordHealthCheck(agentID string, status shared.AgentStatus, latency time.Duration) {
	_, err := r.db.Exec(`
		INSERT INTO health_checks (agent_id, status, latency_ms) VALUES ($1,$2,$3)`,
		agentID, string(status), latency.Milliseconds())
	if err != nil {
		r.logger.Error("Failed to record health check", zap.String("agent_id", agentID), zap.Error(err))
	}
}

func (r *PostgresRegistry) RecordCall(entry CallLogEntry) {
	_, err := r.db.Exec(`
		INSERT INTO call_logs (trace_id, target_type, target_id, capability, request, response, ok, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.TraceID, entry.TargetType, entry.TargetID, entry.Capability,
		nullableJSON(entry.Request), nullableJSON(entry.Response), entry.OK,
		entry.StartedAt, entry.CompletedAt)
	if err != nil {
		r.logger.Error("Failed to record call log", zap.String("trace_id", entry.TraceID), zap.Error(err))
	}
}

func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}
