package worker

import (
	"sort"

	"github.com/itsDarianNgo/Chatter/internal/policy"
)

// Stats is the worker snapshot served on /stats.
type Stats struct {
	MessagesConsumed  int64 `json:"messages_consumed"`
	MessagesPublished int64 `json:"messages_published"`
	AutoPublished     int64 `json:"auto_published"`
	Duplicates        int64 `json:"duplicates"`
	Invalid           int64 `json:"invalid"`

	DecisionsByReason map[string]int64  `json:"decisions_by_reason"`
	RecentDecisions   []policy.Decision `json:"recent_decisions"`

	ObservationsReceived int64 `json:"observations_received"`

	MemoryEnabled        bool  `json:"memory_enabled"`
	MemoryDegraded       bool  `json:"memory_degraded"`
	MemoryReadsSucceeded int64 `json:"memory_reads_succeeded"`
	MemoryWritesAccepted int64 `json:"memory_writes_accepted"`
	MemoryItemsTotal     int64 `json:"memory_items_total"`

	Reflections int64 `json:"reflections"`

	EnabledPersonas []string `json:"enabled_personas"`
	RoomID          string   `json:"room_id"`
	Rooms           []string `json:"rooms"`
}

// Stats returns a consistent-enough snapshot for the /stats endpoint.
func (w *Worker) Stats() Stats {
	s := Stats{
		MessagesConsumed:     w.consumed.Load(),
		MessagesPublished:    w.published.Load(),
		AutoPublished:        w.autoPublished.Load(),
		Duplicates:           w.duplicates.Load(),
		Invalid:              w.invalid.Load(),
		ObservationsReceived: w.obsReceived.Load(),
		MemoryEnabled:        w.mem != nil,
		MemoryReadsSucceeded: w.memReads.Load(),
		MemoryWritesAccepted: w.memWrites.Load(),
		MemoryItemsTotal:     w.memWrites.Load(),
		Reflections:          w.reflections.Load(),
	}
	if w.mem != nil {
		s.MemoryDegraded = w.mem.IsDegraded()
	}

	for _, p := range w.personas {
		s.EnabledPersonas = append(s.EnabledPersonas, p.ID)
	}
	sort.Strings(s.EnabledPersonas)
	for id := range w.rooms {
		s.Rooms = append(s.Rooms, id)
	}
	sort.Strings(s.Rooms)
	if len(s.Rooms) > 0 {
		s.RoomID = s.Rooms[0]
	}

	w.decisionMu.Lock()
	defer w.decisionMu.Unlock()
	s.DecisionsByReason = make(map[string]int64, len(w.byReason))
	for k, v := range w.byReason {
		s.DecisionsByReason[k] = v
	}
	s.RecentDecisions = append([]policy.Decision(nil), w.recent...)
	return s
}
