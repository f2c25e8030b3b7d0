package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whisperengine-ai/whisperengine-go/pkg/types"
)

// EventPublisher receives engine lifecycle events. The websocket hub
// implements it; a nil publisher disables events.
type EventPublisher interface {
	Publish(event string, payload map[string]any)
}

// Manager is the stable facade callers integrate against, one instance
// per companion character. Write paths fail loud; read paths fail soft so
// a storage outage degrades the conversation instead of breaking it.
type Manager struct {
	store  *MemoryStore
	log    zerolog.Logger
	events EventPublisher
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger zerolog.Logger
	Events EventPublisher
}

// NewManager wraps a MemoryStore.
func NewManager(store *MemoryStore, opts ManagerOptions) *Manager {
	return &Manager{
		store:  store,
		log:    opts.Logger.With().Str("collection", store.Collection()).Logger(),
		events: opts.Events,
	}
}

// HealthStatus is the manager's health report.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Stats   Stats  `json:"stats"`
}

// StoreConversation persists one user/bot exchange as two linked records
// sharing an exchange id. If the second write fails the first is left in
// place; a half-stored exchange is still a true memory of what the user
// said.
func (m *Manager) StoreConversation(ctx context.Context, ownerID, userMessage, botResponse string, extra map[string]any) ([]string, error) {
	exchangeID := uuid.NewString()

	userRec := types.MemoryRecord{
		OwnerID: ownerID,
		Kind:    types.KindConversation,
		Content: userMessage,
	}
	userRec.Metadata.Role = types.RoleUser
	userRec.Metadata.Extra = withExchangeID(extra, exchangeID)

	ids, err := m.store.Store(ctx, &userRec)
	if err != nil {
		return nil, err
	}

	botRec := types.MemoryRecord{
		OwnerID: ownerID,
		Kind:    types.KindConversation,
		Content: botResponse,
	}
	botRec.Metadata.Role = types.RoleBot
	botRec.Metadata.Extra = withExchangeID(extra, exchangeID)

	botIDs, err := m.store.Store(ctx, &botRec)
	if err != nil {
		return ids, err
	}
	ids = append(ids, botIDs...)

	m.publish("memory_stored", map[string]any{
		"owner_id":    ownerID,
		"kind":        string(types.KindConversation),
		"exchange_id": exchangeID,
		"count":       len(ids),
	})
	return ids, nil
}

// StoreFact persists a standalone fact. No contradiction check happens
// here; callers that want one invoke DetectContradictions explicitly.
func (m *Manager) StoreFact(ctx context.Context, ownerID, fact, factContext string, confidence float64, extra map[string]any) (string, error) {
	rec := types.MemoryRecord{
		OwnerID:    ownerID,
		Kind:       types.KindFact,
		Content:    fact,
		Confidence: confidence,
	}
	rec.Metadata.Extra = cloneExtra(extra)
	if factContext != "" {
		if rec.Metadata.Extra == nil {
			rec.Metadata.Extra = make(map[string]any)
		}
		rec.Metadata.Extra["fact_context"] = factContext
	}

	ids, err := m.store.Store(ctx, &rec)
	if err != nil {
		return "", err
	}

	m.publish("memory_stored", map[string]any{
		"owner_id": ownerID,
		"kind":     string(types.KindFact),
		"id":       ids[0],
	})
	return ids[0], nil
}

// RetrieveRelevantMemories is the legacy single-vector retrieval path.
// Infrastructure failures yield an empty result, never an error.
func (m *Manager) RetrieveRelevantMemories(ctx context.Context, ownerID, query string, limit int) []SearchResult {
	results, err := m.store.Search(ctx, ownerID, query, SearchOptions{
		Limit:      limit,
		VectorName: types.VectorContent,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("owner", ownerID).Msg("retrieval failed, returning empty")
		return nil
	}
	return results
}

// RetrieveContext assembles a prompt-ready context block: classified
// search across all kinds, ranked by score then recency, greedily
// concatenated up to maxLength characters. Fails soft to an empty string.
func (m *Manager) RetrieveContext(ctx context.Context, ownerID, query string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	results, err := m.store.Search(ctx, ownerID, query, SearchOptions{Limit: 20})
	if err != nil {
		m.log.Warn().Err(err).Str("owner", ownerID).Msg("context retrieval failed, returning empty")
		return ""
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.Timestamp.After(results[j].Record.Timestamp)
	})

	var b strings.Builder
	for _, r := range results {
		content := strings.TrimSpace(r.Record.Content)
		if content == "" {
			continue
		}
		addition := len(content)
		if b.Len() > 0 {
			addition++ // newline separator
		}
		if b.Len()+addition > maxLength {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(content)
	}
	return b.String()
}

// UpdateMemory corrects a stored memory's content in place. Returns false
// when the id does not exist for this owner.
func (m *Manager) UpdateMemory(ctx context.Context, ownerID, id, newContent, reason string) (bool, error) {
	return m.store.Update(ctx, ownerID, id, newContent, reason)
}

// DeleteMemory removes a memory. Unknown ids are a no-op.
func (m *Manager) DeleteMemory(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// DetectContradictions checks new content against the owner's stored
// facts and preferences.
func (m *Manager) DetectContradictions(ctx context.Context, ownerID, newContent string) ([]types.ContradictionCandidate, error) {
	candidates, err := m.store.DetectContradictions(ctx, ownerID, newContent)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		m.publish("contradiction_detected", map[string]any{
			"owner_id": ownerID,
			"count":    len(candidates),
		})
	}
	return candidates, nil
}

// HealthCheck reports store reachability and counters. It never returns
// an error; an unreachable store is a report, not a failure.
func (m *Manager) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Stats: m.store.Stats()}
	if err := m.store.Ping(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
	}
	return status
}

// Stats exposes the underlying store counters.
func (m *Manager) Stats() Stats { return m.store.Stats() }

// DecayPass runs a decay sweep over this manager's collection.
func (m *Manager) DecayPass(ctx context.Context, halfLife time.Duration) (DecayPassResult, error) {
	return m.store.DecayPass(ctx, halfLife, m.log)
}

func (m *Manager) publish(event string, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(event, payload)
}

func withExchangeID(extra map[string]any, exchangeID string) map[string]any {
	out := cloneExtra(extra)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out["exchange_id"] = exchangeID
	return out
}

func cloneExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
