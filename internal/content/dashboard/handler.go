package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/reconcile"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

// PublishedData describes a published document.
type PublishedData struct {
	ID     string      `json:"id"`
	Type   schema.Type `json:"type"`
	Title  string      `json:"title,omitempty"`
	Action string      `json:"action"`
}

// ReconcileData summarizes one dispatch.
type ReconcileData struct {
	ID          string                 `json:"id,omitempty"`
	Type        schema.Type            `json:"type,omitempty"`
	Updated     int                    `json:"updated"`
	Failed      int                    `json:"failed"`
	Reconcilers []ReconcilerResultData `json:"reconcilers,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// ReconcilerResultData is one reconciler's share of a dispatch.
type ReconcilerResultData struct {
	Name      string   `json:"name"`
	Updated   []string `json:"updated,omitempty"`
	Unchanged int      `json:"unchanged"`
	Skipped   []string `json:"skipped,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// TypeStats holds per-type document counts.
type TypeStats struct {
	Published int `json:"published"`
	Drafts    int `json:"drafts"`
}

// StatsData contains store and reconcile statistics
type StatsData struct {
	Total       int                       `json:"total"`
	Drafts      int                       `json:"drafts"`
	ByType      map[schema.Type]TypeStats `json:"by_type"`
	Reconciles  int                       `json:"reconciles"`
	FailedRuns  int                       `json:"failed_runs"`
	LastUpdated time.Time                 `json:"last_updated"`
}

// Handler turns publish and reconcile events into dashboard messages.
type Handler struct {
	server *Server
	logger *slog.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		server: server,
		logger: logger.With("component", "dashboard"),
		stats:  StatsData{ByType: make(map[schema.Type]TypeStats)},
	}
}

// OnAction handles a successful document action.
func (h *Handler) OnAction(action string, outcome *publish.Outcome) {
	if outcome == nil || outcome.Document == nil {
		return
	}
	doc := outcome.Document
	h.send(MessageTypePublished, PublishedData{
		ID:     doc.ID,
		Type:   doc.Type,
		Title:  doc.Title(),
		Action: action,
	})
}

// OnReconciled handles a finished post-publish reconciliation. It has the
// publish.Observer signature.
func (h *Handler) OnReconciled(report *reconcile.Report, err error) {
	data := ReconcileData{}
	if report != nil {
		data.ID, data.Type = report.ID, report.Type
		data.Updated, data.Failed = report.Updated(), report.Failed()
		for _, res := range report.Results {
			rd := ReconcilerResultData{
				Name:      res.Reconciler,
				Updated:   res.Updated,
				Unchanged: len(res.Unchanged),
				Skipped:   res.Skipped,
			}
			for id := range res.Failed {
				rd.Failed = append(rd.Failed, id)
			}
			data.Reconcilers = append(data.Reconcilers, rd)
		}
	}

	msgType := MessageTypeReconciled
	if err != nil {
		data.Error = err.Error()
		msgType = MessageTypeReconcileFailed
	}

	h.mu.Lock()
	h.stats.Reconciles++
	if err != nil {
		h.stats.FailedRuns++
	}
	h.mu.Unlock()

	h.send(msgType, data)
	h.broadcastStats()
}

// UpdateStats replaces the document counts and broadcasts them.
func (h *Handler) UpdateStats(counts map[schema.Type]store.TypeCount) {
	h.mu.Lock()
	h.stats.Total, h.stats.Drafts = 0, 0
	h.stats.ByType = make(map[schema.Type]TypeStats, len(counts))
	for t, c := range counts {
		h.stats.ByType[t] = TypeStats{Published: c.Published, Drafts: c.Drafts}
		h.stats.Total += c.Published
		h.stats.Drafts += c.Drafts
	}
	h.stats.LastUpdated = time.Now()
	h.mu.Unlock()

	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.ByType = make(map[schema.Type]TypeStats, len(h.stats.ByType))
	for t, c := range h.stats.ByType {
		s.ByType[t] = c
	}
	return s
}

// Welcome returns the current statistics as a stats message, so a client
// that connects between updates starts from the live counts.
func (h *Handler) Welcome() Message {
	raw, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Warn("failed to marshal stats", "error", err)
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: raw}
}

func (h *Handler) broadcastStats() {
	h.send(MessageTypeStats, h.GetStats())
}

func (h *Handler) send(t MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("failed to marshal message data", "type", t, "error", err)
		return
	}
	h.server.Broadcast(Message{Type: t, Timestamp: time.Now(), Data: raw})
}
