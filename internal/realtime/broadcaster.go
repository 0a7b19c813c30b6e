package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/projectpulse/projectpulse/internal/adapter/metrics"
	"github.com/projectpulse/projectpulse/internal/domain"
	"github.com/projectpulse/projectpulse/internal/protocol"
)

// RelayEvent carries one marshalled envelope across instances. Exactly one of
// ProjectID or ClientID names the fan-out audience.
type RelayEvent struct {
	Origin    string          `json:"origin"`
	ProjectID string          `json:"projectId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// EventRelay publishes fan-out events to peer instances. Publishing is
// best-effort: a relay failure degrades to local-only delivery.
type EventRelay interface {
	Publish(ctx context.Context, event RelayEvent) error
}

// Broadcaster is the broadcast engine: it persists a project event via the
// gateway, then pushes it to every live connection subscribed to the project
// (and, for status changes and completions, to the owning client's
// connections). It holds no state of its own beyond an instance identity.
type Broadcaster struct {
	registry   *Registry
	store      domain.ProjectStore
	relay      EventRelay // may be nil in single-instance deployments
	clock      clockwork.Clock
	metrics    *metrics.RealtimeMetrics
	group      singleflight.Group
	instanceID string

	recentUpdatesLimit int
}

func NewBroadcaster(registry *Registry, store domain.ProjectStore, relay EventRelay, clock clockwork.Clock, m *metrics.RealtimeMetrics, recentUpdatesLimit int) *Broadcaster {
	return &Broadcaster{
		registry:           registry,
		store:              store,
		relay:              relay,
		clock:              clock,
		metrics:            m,
		instanceID:         uuid.NewString(),
		recentUpdatesLimit: recentUpdatesLimit,
	}
}

// InstanceID identifies this broadcaster for relay origin filtering.
func (b *Broadcaster) InstanceID() string { return b.instanceID }

// PushProgressUpdate persists the progress entry, then fans a progress_update
// envelope out to the project's subscribers. The send never happens before the
// persistence write has been acknowledged, so a client receiving the event can
// immediately re-fetch status and observe it.
func (b *Broadcaster) PushProgressUpdate(ctx context.Context, projectID string, data json.RawMessage) error {
	start := b.clock.Now()
	defer func() { b.metrics.BroadcastDuration.Observe(b.clock.Since(start).Seconds()) }()

	entry, err := b.store.AddProgressUpdate(ctx, projectID, data)
	if err != nil {
		return fmt.Errorf("persist progress update: %w", err)
	}

	env := protocol.Envelope{
		Type:      protocol.TypeProgressUpdate,
		Timestamp: b.clock.Now().UTC(),
		ProjectID: projectID,
		Progress:  entry.Data,
	}
	b.fanOutProject(ctx, projectID, env)
	return nil
}

// PushStatusChange updates the project status, re-reads the updated record
// once, and performs the dual fan-out: project_status_change to the project's
// subscribers and, when the record carries an owning client identity,
// client_project_update to that client's subscribers. Both audiences see the
// same snapshot. A connection in both sets receives both envelopes; the two
// types drive distinct UI paths and are deliberately not deduplicated.
func (b *Broadcaster) PushStatusChange(ctx context.Context, projectID string, status domain.ProjectStatus, extra map[string]any) error {
	start := b.clock.Now()
	defer func() { b.metrics.BroadcastDuration.Observe(b.clock.Since(start).Seconds()) }()

	if err := b.store.UpdateProject(ctx, projectID, domain.ProjectUpdate{Status: &status}); err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	project, err := b.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("reload project: %w", err)
	}

	b.dualFanOut(ctx, project, protocol.TypeProjectStatusChange, status, nil, extra)
	return nil
}

// completionReport is the slice of the final report the engine interprets.
type completionReport struct {
	QualityScore *float64 `json:"qualityScore"`
}

// PushCompletion persists the final report, moves the project to the terminal
// completed status with a completion timestamp and any quality score carried
// on the report, then performs the dual fan-out with the report attached.
func (b *Broadcaster) PushCompletion(ctx context.Context, projectID string, report json.RawMessage) error {
	start := b.clock.Now()
	defer func() { b.metrics.BroadcastDuration.Observe(b.clock.Since(start).Seconds()) }()

	if err := b.store.SaveProjectReport(ctx, projectID, report); err != nil {
		return fmt.Errorf("save project report: %w", err)
	}

	var parsed completionReport
	if err := json.Unmarshal(report, &parsed); err != nil {
		slog.Warn("Report carries no parsable quality score", "project_id", projectID, "error", err)
	}

	status := domain.StatusCompleted
	completedAt := b.clock.Now().UTC()
	update := domain.ProjectUpdate{
		Status:       &status,
		CompletedAt:  &completedAt,
		QualityScore: parsed.QualityScore,
	}
	if err := b.store.UpdateProject(ctx, projectID, update); err != nil {
		return fmt.Errorf("mark project completed: %w", err)
	}
	project, err := b.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("reload project: %w", err)
	}

	b.dualFanOut(ctx, project, protocol.TypeCompleted, status, report, nil)
	return nil
}

// Snapshot delivers a project_status envelope to a single connection. Used by
// the subscribe flow and the status-query command, never by the fan-out path.
// Concurrent snapshots of the same project share one gateway read.
func (b *Broadcaster) Snapshot(ctx context.Context, c *Conn, projectID string) error {
	env, err, _ := b.group.Do(projectID, func() (any, error) {
		project, err := b.store.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		updates, err := b.store.GetProgressUpdates(ctx, projectID, b.recentUpdatesLimit)
		if err != nil {
			return nil, err
		}
		return protocol.Envelope{
			Type:          protocol.TypeProjectStatus,
			ProjectID:     projectID,
			Project:       project,
			RecentUpdates: updates,
		}, nil
	})
	if err != nil {
		return err
	}

	envelope := env.(protocol.Envelope)
	envelope.Timestamp = b.clock.Now().UTC()
	b.send(c, envelope)
	return nil
}

// HandleRelayEvent delivers an event published by a peer instance to the
// local registry. Events originating from this instance are dropped.
func (b *Broadcaster) HandleRelayEvent(event RelayEvent) {
	if event.Origin == b.instanceID {
		return
	}
	b.metrics.RelayEventsReceived.Inc()

	var conns []*Conn
	switch {
	case event.ProjectID != "":
		conns = b.registry.ConnectionsForProject(event.ProjectID)
	case event.ClientID != "":
		conns = b.registry.ConnectionsForClient(event.ClientID)
	default:
		return
	}
	for _, c := range conns {
		b.sendRaw(c, event.Payload)
	}
}

func (b *Broadcaster) dualFanOut(ctx context.Context, project *domain.Project, projectType string, status domain.ProjectStatus, report json.RawMessage, extra map[string]any) {
	now := b.clock.Now().UTC()

	projectEnv := protocol.Envelope{
		Type:      projectType,
		Timestamp: now,
		ProjectID: project.ID,
		Status:    status,
		Project:   project,
		Report:    report,
		Extra:     extra,
	}
	b.fanOutProject(ctx, project.ID, projectEnv)

	if project.ClientID == "" {
		return
	}
	clientEnv := protocol.Envelope{
		Type:      protocol.TypeClientProjectUpdate,
		Timestamp: now,
		ProjectID: project.ID,
		Status:    status,
		Project:   project,
		Report:    report,
		Extra:     extra,
	}
	b.fanOutClient(ctx, project.ClientID, clientEnv)
}

func (b *Broadcaster) fanOutProject(ctx context.Context, projectID string, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}
	b.metrics.EventsBroadcast.WithLabelValues(env.Type).Inc()

	notified := 0
	for _, c := range b.registry.ConnectionsForProject(projectID) {
		if b.sendRaw(c, data) {
			notified++
		}
	}
	slog.Debug("Fan-out complete", "type", env.Type, "project_id", projectID, "notified", notified)

	b.publishRelay(ctx, RelayEvent{Origin: b.instanceID, ProjectID: projectID, Payload: data})
}

func (b *Broadcaster) fanOutClient(ctx context.Context, clientID string, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}
	b.metrics.EventsBroadcast.WithLabelValues(env.Type).Inc()

	notified := 0
	for _, c := range b.registry.ConnectionsForClient(clientID) {
		if b.sendRaw(c, data) {
			notified++
		}
	}
	slog.Debug("Fan-out complete", "type", env.Type, "client_id", clientID, "notified", notified)

	b.publishRelay(ctx, RelayEvent{Origin: b.instanceID, ClientID: clientID, Payload: data})
}

func (b *Broadcaster) publishRelay(ctx context.Context, event RelayEvent) {
	if b.relay == nil {
		return
	}
	if err := b.relay.Publish(ctx, event); err != nil {
		slog.Warn("Relay publish failed, delivered locally only", "error", err)
	}
}

// send marshals and delivers one envelope to one connection, best-effort.
func (b *Broadcaster) send(c *Conn, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}
	b.sendRaw(c, data)
}

func (b *Broadcaster) sendRaw(c *Conn, data []byte) bool {
	if !c.Open() {
		b.metrics.SendFailures.Inc()
		return false
	}
	if !c.Send(data) {
		b.metrics.SendFailures.Inc()
		slog.Warn("Skipped send to unwritable connection", "connection_id", c.ID().String())
		return false
	}
	b.metrics.MessagesSent.Inc()
	return true
}
