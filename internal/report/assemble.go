// Package report folds validated entry state back into the nested shape the
// external consumers expect and runs the submit sequence: durable write
// first, best-effort sink mirror second.
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stakahashi/tenken/internal/types"
)

// fallbackDetail is serialized for an abnormal checkbox whose detail text is
// empty. Unreachable behind the completion gate; kept for direct callers.
const fallbackDetail = "abnormal"

// Assemble folds the flat entry state over the tree into an immutable
// snapshot: place name → category name → item label → value. Number values
// are parsed floats (0 when unparsable — the completion gate normally makes
// that impossible), passed checkboxes are true, failed checkboxes carry
// their detail text.
func Assemble(tree *types.StructureTree, values map[string]any, details map[string]string, by types.Submitter) *types.ReportSnapshot {
	out := make(types.ReportValues, len(tree.Places))
	for _, place := range tree.Places {
		placeValues := make(map[string]map[string]any, len(place.Categories))
		for _, cat := range place.Categories {
			catValues := make(map[string]any, len(cat.Items))
			for _, it := range cat.Items {
				catValues[it.Label] = itemValue(it, values[it.ID], details[it.ID])
			}
			placeValues[cat.Name] = catValues
		}
		out[place.Name] = placeValues
	}
	return &types.ReportSnapshot{
		ID:          uuid.New().String(),
		SubmittedAt: time.Now(),
		SubmittedBy: by,
		Values:      out,
	}
}

func itemValue(it types.Item, value any, detail string) any {
	if it.Type == types.ItemCheckbox {
		if checked, _ := value.(bool); checked {
			return true
		}
		if strings.TrimSpace(detail) == "" {
			return fallbackDetail
		}
		return detail
	}
	raw, _ := value.(string)
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return float64(0)
	}
	return v
}
