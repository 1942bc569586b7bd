package domain

import "time"

// HandlerStatus enumerates availability of an assignment target.
type HandlerStatus string

const (
	HandlerStatusAvailable HandlerStatus = "AVAILABLE"
	HandlerStatusBusy      HandlerStatus = "BUSY"
	HandlerStatusOffline   HandlerStatus = "OFFLINE"
)

// Handler models a human agent or automated queue that works cases.
type Handler struct {
	ID                 string
	Skills             []string
	MaxConcurrentCases int
	CurrentLoad        int
	Status             HandlerStatus
	LastAssignedAt     *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasSkill reports whether the handler covers the category.
func (h *Handler) HasSkill(category string) bool {
	for _, skill := range h.Skills {
		if skill == category {
			return true
		}
	}
	return false
}

// EligibleFor reports whether the handler may receive a case of the
// given category. OFFLINE handlers keep existing cases but never
// receive new ones.
func (h *Handler) EligibleFor(category string) bool {
	return h.Status == HandlerStatusAvailable &&
		h.CurrentLoad < h.MaxConcurrentCases &&
		h.HasSkill(category)
}

// LoadRatio returns current_load / max_concurrent_cases for balancing.
func (h *Handler) LoadRatio() float64 {
	if h.MaxConcurrentCases <= 0 {
		return 1
	}
	return float64(h.CurrentLoad) / float64(h.MaxConcurrentCases)
}
