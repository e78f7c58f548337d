package validate

import (
	"testing"

	"github.com/stakahashi/tenken/internal/types"
)

func numberItem(standard, threshold float64) types.Item {
	return types.Item{
		ID:             "item-1",
		Label:          "排水流量計",
		Type:           types.ItemNumber,
		StandardValue:  &standard,
		ErrorThreshold: &threshold,
	}
}

func TestNumber_WithinBand(t *testing.T) {
	item := numberItem(50, 5)
	for _, raw := range []string{"45", "50", "55", "47.5", " 50 "} {
		res := Item(item, raw, "")
		if !res.OK() {
			t.Errorf("Item(%q) error = %q, want none", raw, res.Error)
		}
		if res.Warning != "" {
			t.Errorf("Item(%q) warning = %q, want none", raw, res.Warning)
		}
	}
}

func TestNumber_OutOfBand(t *testing.T) {
	item := numberItem(50, 5)
	want := "out of tolerance range [45..55]"
	for _, raw := range []string{"56", "44", "44.9", "100", "-3"} {
		res := Item(item, raw, "")
		if !res.OK() {
			t.Errorf("Item(%q) error = %q, want none", raw, res.Error)
		}
		if res.Warning != want {
			t.Errorf("Item(%q) warning = %q, want %q", raw, res.Warning, want)
		}
	}
}

func TestNumber_Empty(t *testing.T) {
	item := numberItem(50, 5)
	for _, raw := range []string{"", "   "} {
		res := Item(item, raw, "")
		if res.Error != ErrRequired {
			t.Errorf("Item(%q) error = %q, want %q", raw, res.Error, ErrRequired)
		}
	}
}

func TestNumber_NotNumeric(t *testing.T) {
	item := numberItem(50, 5)
	for _, raw := range []string{"abc", "5O", "12,3"} {
		res := Item(item, raw, "")
		if res.Error != ErrNotNumeric {
			t.Errorf("Item(%q) error = %q, want %q", raw, res.Error, ErrNotNumeric)
		}
		if res.Warning != "" {
			t.Errorf("Item(%q) warning = %q, want none on hard error", raw, res.Warning)
		}
	}
}

func TestNumber_NoToleranceConfigured(t *testing.T) {
	item := types.Item{ID: "item-2", Label: "目視", Type: types.ItemNumber}
	res := Item(item, "9999", "")
	if !res.OK() || res.Warning != "" {
		t.Errorf("Item without band = %+v, want clean", res)
	}
}

func TestCheckbox_Checked(t *testing.T) {
	item := types.Item{ID: "item-3", Label: "計器盤", Type: types.ItemCheckbox}
	res := Item(item, true, "")
	if !res.OK() || res.Warning != "" {
		t.Errorf("checked = %+v, want clean", res)
	}
}

func TestCheckbox_UncheckedNeedsDetail(t *testing.T) {
	item := types.Item{ID: "item-3", Label: "計器盤", Type: types.ItemCheckbox}
	for _, detail := range []string{"", "  "} {
		res := Item(item, false, detail)
		if res.Error != ErrDetailRequired {
			t.Errorf("unchecked, detail %q: error = %q, want %q", detail, res.Error, ErrDetailRequired)
		}
	}
}

func TestCheckbox_UncheckedWithDetail(t *testing.T) {
	item := types.Item{ID: "item-3", Label: "計器盤", Type: types.ItemCheckbox}
	res := Item(item, false, "E-01")
	if !res.OK() {
		t.Errorf("unchecked with detail: error = %q, want none", res.Error)
	}
	if res.Warning != WarnAbnormality {
		t.Errorf("unchecked with detail: warning = %q, want %q", res.Warning, WarnAbnormality)
	}
}

func TestItem_Idempotent(t *testing.T) {
	item := numberItem(50, 5)
	first := Item(item, "56", "")
	second := Item(item, "56", "")
	if first != second {
		t.Errorf("classification not stable: %+v vs %+v", first, second)
	}
}

func TestToleranceWarning_Formatting(t *testing.T) {
	got := ToleranceWarning(44.5, 55.5)
	want := "out of tolerance range [44.5..55.5]"
	if got != want {
		t.Errorf("ToleranceWarning = %q, want %q", got, want)
	}
}
