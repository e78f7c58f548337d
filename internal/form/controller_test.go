package form

import (
	"context"
	"errors"
	"testing"

	"github.com/stakahashi/tenken/internal/types"
	"github.com/stakahashi/tenken/internal/validate"
)

// fakeDispatcher records dispatched snapshots and can be told to fail.
type fakeDispatcher struct {
	snaps []*types.ReportSnapshot
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, snap *types.ReportSnapshot) error {
	if d.err != nil {
		return d.err
	}
	d.snaps = append(d.snaps, snap)
	return nil
}

func floatPtr(v float64) *float64 { return &v }

// demoTree is the sample inspection form: one place, one category, one
// numeric item with a tolerance band and one checkbox item.
func demoTree() *types.StructureTree {
	return &types.StructureTree{Places: []types.Place{{
		ID: "p1", Name: "浄水場",
		Categories: []types.Category{{
			ID: "c1", Name: "管理棟",
			Items: []types.Item{
				{
					ID: "i-flow", Label: "排水流量計", Order: 0, Type: types.ItemNumber,
					StandardValue: floatPtr(50), ErrorThreshold: floatPtr(5),
				},
				{ID: "i-panel", Label: "計器盤", Order: 1, Type: types.ItemCheckbox},
			},
		}},
	}}}
}

func newTestController(disp Dispatcher) *Controller {
	c := NewController(types.AuthSession{UserID: "u1", Name: "担当 太郎"}, disp)
	c.SetTree(demoTree())
	return c
}

func TestController_SeedsInvalidState(t *testing.T) {
	c := newTestController(&fakeDispatcher{})

	flow, ok := c.State("i-flow")
	if !ok {
		t.Fatal("numeric item not seeded")
	}
	if flow.Value != "" || flow.Error != validate.ErrRequired {
		t.Errorf("numeric seed = %+v", flow)
	}

	panel, ok := c.State("i-panel")
	if !ok {
		t.Fatal("checkbox item not seeded")
	}
	if panel.Value != false || panel.Error != validate.ErrDetailRequired {
		t.Errorf("checkbox seed = %+v", panel)
	}

	if c.AllComplete() {
		t.Error("fresh form reads as complete")
	}
	if c.CategoryComplete("c1") {
		t.Error("fresh category reads as complete")
	}
}

func TestController_Cursor(t *testing.T) {
	c := newTestController(&fakeDispatcher{})

	if err := c.SelectPlace("p1"); err != nil {
		t.Fatalf("SelectPlace: %v", err)
	}
	if err := c.SelectCategory("c1"); err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	place, cat := c.Cursor()
	if place != "p1" || cat != "c1" {
		t.Errorf("cursor = (%s, %s)", place, cat)
	}

	c.Back()
	place, cat = c.Cursor()
	if place != "p1" || cat != "" {
		t.Errorf("cursor after one back = (%s, %s)", place, cat)
	}
	c.Back()
	place, cat = c.Cursor()
	if place != "" || cat != "" {
		t.Errorf("cursor after two backs = (%s, %s)", place, cat)
	}

	if err := c.SelectPlace("ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("SelectPlace ghost = %v, want ErrUnknownNode", err)
	}
	if err := c.SelectCategory("c1"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("SelectCategory without place = %v, want ErrUnknownNode", err)
	}
}

func TestController_SetValueRevalidates(t *testing.T) {
	c := newTestController(&fakeDispatcher{})

	if err := c.SetValue("i-flow", "56"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	st, _ := c.State("i-flow")
	if st.Error != "" {
		t.Errorf("error = %q, want none", st.Error)
	}
	if st.Warning != validate.ToleranceWarning(45, 55) {
		t.Errorf("warning = %q", st.Warning)
	}

	if err := c.SetValue("i-flow", "50"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	st, _ = c.State("i-flow")
	if st.Error != "" || st.Warning != "" {
		t.Errorf("state after in-band value = %+v", st)
	}

	if err := c.SetValue("ghost", "1"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("SetValue ghost = %v, want ErrUnknownItem", err)
	}
}

func TestController_CheckboxDetailFlow(t *testing.T) {
	c := newTestController(&fakeDispatcher{})

	// Unchecked without detail is a hard error.
	if err := c.SetValue("i-panel", false); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	st, _ := c.State("i-panel")
	if st.Error != validate.ErrDetailRequired {
		t.Errorf("error = %q, want %q", st.Error, validate.ErrDetailRequired)
	}

	// Detail converts it into a warning.
	if err := c.SetDetail("i-panel", "E-01"); err != nil {
		t.Fatalf("SetDetail: %v", err)
	}
	st, _ = c.State("i-panel")
	if st.Error != "" || st.Warning != validate.WarnAbnormality || st.Detail != "E-01" {
		t.Errorf("state = %+v", st)
	}

	// Checking the box clears the stored detail.
	if err := c.SetValue("i-panel", true); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	st, _ = c.State("i-panel")
	if st.Error != "" || st.Warning != "" || st.Detail != "" {
		t.Errorf("state after check = %+v", st)
	}
}

func TestController_TreeRefreshKeepsEdits(t *testing.T) {
	c := newTestController(&fakeDispatcher{})
	c.SetValue("i-flow", "50")

	// Refresh with a new item added and the panel item removed.
	tree := demoTree()
	tree.Places[0].Categories[0].Items = []types.Item{
		tree.Places[0].Categories[0].Items[0],
		{ID: "i-new", Label: "薬品残量", Order: 1, Type: types.ItemNumber,
			StandardValue: floatPtr(10), ErrorThreshold: floatPtr(2)},
	}
	c.SetTree(tree)

	st, ok := c.State("i-flow")
	if !ok || st.Value != "50" {
		t.Errorf("surviving item lost its edit: %+v", st)
	}
	if _, ok := c.State("i-panel"); ok {
		t.Error("removed item state not dropped")
	}
	st, ok = c.State("i-new")
	if !ok || st.Error != validate.ErrRequired {
		t.Errorf("new item not seeded: %+v", st)
	}
}

func TestController_SubmitEndToEnd(t *testing.T) {
	disp := &fakeDispatcher{}
	c := newTestController(disp)
	ctx := context.Background()

	// Incomplete form cannot submit.
	if _, err := c.RequestSubmit(ctx); !errors.Is(err, ErrNotComplete) {
		t.Fatalf("RequestSubmit incomplete = %v, want ErrNotComplete", err)
	}

	c.SetValue("i-flow", "56") // out of band, warning
	c.SetValue("i-panel", false)
	c.SetDetail("i-panel", "E-01")

	if !c.AllComplete() {
		t.Fatal("form with warnings only should be complete")
	}
	if !c.CategoryHasWarning("c1") || !c.PlaceHasWarning("p1") {
		t.Error("warning flags not derived")
	}

	outcome, err := c.RequestSubmit(ctx)
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if outcome != NeedsConfirm {
		t.Fatalf("outcome = %v, want NeedsConfirm", outcome)
	}
	if len(disp.snaps) != 0 {
		t.Fatal("dispatched before confirmation")
	}
	if !c.ConfirmPending() {
		t.Error("confirm flag not set")
	}

	if err := c.ConfirmSubmit(ctx); err != nil {
		t.Fatalf("ConfirmSubmit: %v", err)
	}
	if len(disp.snaps) != 1 {
		t.Fatalf("dispatched %d snapshots, want 1", len(disp.snaps))
	}

	snap := disp.snaps[0]
	if snap.SubmittedBy.ID != "u1" || snap.SubmittedBy.Name != "担当 太郎" {
		t.Errorf("submitter = %+v", snap.SubmittedBy)
	}
	if v := snap.Values["浄水場"]["管理棟"]["排水流量計"]; v != 56.0 {
		t.Errorf("flow value = %v (%T), want 56", v, v)
	}
	if v := snap.Values["浄水場"]["管理棟"]["計器盤"]; v != "E-01" {
		t.Errorf("panel value = %v, want E-01", v)
	}

	// Successful submit reseeds the form.
	if c.AllComplete() {
		t.Error("form still complete after submit reset")
	}
	st, _ := c.State("i-flow")
	if st.Value != "" || st.Error != validate.ErrRequired {
		t.Errorf("state after reset = %+v", st)
	}
}

func TestController_CleanSubmitSkipsConfirm(t *testing.T) {
	disp := &fakeDispatcher{}
	c := newTestController(disp)
	ctx := context.Background()

	c.SetValue("i-flow", "50")
	c.SetValue("i-panel", true)

	outcome, err := c.RequestSubmit(ctx)
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if outcome != Submitted {
		t.Fatalf("outcome = %v, want Submitted", outcome)
	}
	if len(disp.snaps) != 1 {
		t.Fatalf("dispatched %d snapshots, want 1", len(disp.snaps))
	}
	if v := disp.snaps[0].Values["浄水場"]["管理棟"]["計器盤"]; v != true {
		t.Errorf("panel value = %v, want true", v)
	}
}

func TestController_ConfirmWithoutRequest(t *testing.T) {
	c := newTestController(&fakeDispatcher{})
	if err := c.ConfirmSubmit(context.Background()); !errors.Is(err, ErrNoConfirmPending) {
		t.Errorf("ConfirmSubmit = %v, want ErrNoConfirmPending", err)
	}
}

func TestController_EditClearsPendingConfirm(t *testing.T) {
	c := newTestController(&fakeDispatcher{})
	ctx := context.Background()

	c.SetValue("i-flow", "56")
	c.SetValue("i-panel", true)
	if outcome, _ := c.RequestSubmit(ctx); outcome != NeedsConfirm {
		t.Fatal("expected NeedsConfirm")
	}

	// Any edit invalidates the pending acknowledgement.
	c.SetValue("i-flow", "50")
	if err := c.ConfirmSubmit(ctx); !errors.Is(err, ErrNoConfirmPending) {
		t.Errorf("ConfirmSubmit after edit = %v, want ErrNoConfirmPending", err)
	}
}

func TestController_DispatchFailureKeepsEntries(t *testing.T) {
	disp := &fakeDispatcher{err: errors.New("store down")}
	c := newTestController(disp)
	ctx := context.Background()

	c.SetValue("i-flow", "50")
	c.SetValue("i-panel", true)

	if _, err := c.RequestSubmit(ctx); err == nil {
		t.Fatal("expected dispatch error")
	}
	// Entries survive for retry.
	st, _ := c.State("i-flow")
	if st.Value != "50" {
		t.Errorf("entry lost after failed dispatch: %+v", st)
	}
	if c.Submitting() {
		t.Error("submitting flag stuck after failure")
	}

	disp.err = nil
	if outcome, err := c.RequestSubmit(ctx); err != nil || outcome != Submitted {
		t.Fatalf("retry = (%v, %v)", outcome, err)
	}
}

func TestController_NoSession(t *testing.T) {
	c := NewController(types.AuthSession{}, &fakeDispatcher{})
	c.SetTree(demoTree())
	c.SetValue("i-flow", "50")
	c.SetValue("i-panel", true)

	if _, err := c.RequestSubmit(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("RequestSubmit = %v, want ErrNoSession", err)
	}
}

func TestController_EmptyTreeNeverComplete(t *testing.T) {
	c := NewController(types.AuthSession{UserID: "u1"}, &fakeDispatcher{})
	if c.AllComplete() {
		t.Error("unloaded tree reads as complete")
	}
	c.SetTree(&types.StructureTree{})
	if c.AllComplete() {
		t.Error("empty tree reads as complete")
	}
}
