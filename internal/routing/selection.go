package routing

import (
	"sort"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// SelectHandler picks the assignment target among eligible handlers:
// lowest load ratio first, then longest time since last assignment,
// then lexical handler ID. The ordering is total, so two runs over the
// same snapshot pick the same handler.
func SelectHandler(eligible []domain.Handler) *domain.Handler {
	if len(eligible) == 0 {
		return nil
	}
	sorted := append([]domain.Handler(nil), eligible...)
	sort.Slice(sorted, func(i, j int) bool {
		ri, rj := sorted[i].LoadRatio(), sorted[j].LoadRatio()
		if ri != rj {
			return ri < rj
		}
		ti, tj := sorted[i].LastAssignedAt, sorted[j].LastAssignedAt
		if (ti == nil) != (tj == nil) {
			// Never-assigned handlers count as waiting longest.
			return ti == nil
		}
		if ti != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &sorted[0]
}
