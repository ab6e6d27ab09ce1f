package tool

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
	"github.com/tanpawarit/voice-persona-agents/agent/persona"
	"github.com/tanpawarit/voice-persona-agents/agent/state"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type harness struct {
	dispatcher *Dispatcher
	store      *state.DomainStore
	session    *state.Session
}

func newHarness(t *testing.T, personaID string, opts ...Option) *harness {
	t.Helper()

	reg, err := persona.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p, ok := reg.Get(personaID)
	if !ok {
		t.Fatalf("persona %s missing", personaID)
	}

	store := state.NewDomainStore()
	sess, err := state.NewSession("sess-"+personaID, personaID, fixedNow)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if _, err := store.Reset(sess.ID, p.Domain); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	d, err := NewDispatcher(reg, store, opts...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return &harness{dispatcher: d, store: store, session: sess}
}

func (h *harness) invoke(t *testing.T, tool string, args map[string]any) contractx.ToolResult {
	t.Helper()
	return h.dispatcher.Invoke(context.Background(), h.session, tool, args)
}

func (h *harness) mustInvoke(t *testing.T, tool string, args map[string]any) contractx.ToolResult {
	t.Helper()
	out := h.invoke(t, tool, args)
	if out.Failed() {
		t.Fatalf("%s failed: %s (%s)", tool, out.Error, out.Code)
	}
	return out
}

func (h *harness) record(t *testing.T) *domain.Record {
	t.Helper()
	rec, err := h.store.Get(h.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return rec
}

func TestInvokeRejectsToolOutsidePersona(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	for _, name := range []string{"verify_identity", "launch_rocket"} {
		out := h.invoke(t, name, map[string]any{"answer": "bruno"})
		if out.Code != contractx.CodeToolNotAllowed {
			t.Fatalf("%s code = %q, want %q", name, out.Code, contractx.CodeToolNotAllowed)
		}
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "missing id", args: map[string]any{"quantity": float64(1)}, want: "item_id is required"},
		{name: "too many", args: map[string]any{"item_id": "milk-1l", "quantity": float64(100)}, want: "at most 99"},
		{name: "fraction", args: map[string]any{"item_id": "milk-1l", "quantity": 1.5}, want: "whole number"},
		{name: "wrong type", args: map[string]any{"item_id": 7}, want: "must be text"},
		{name: "unknown arg", args: map[string]any{"item_id": "milk-1l", "colour": "red"}, want: "does not take colour"},
	}
	for _, tc := range cases {
		out := h.invoke(t, ToolAddItem, tc.args)
		if out.Code != contractx.CodeInvalidArguments {
			t.Fatalf("%s: code = %q, want invalid_arguments", tc.name, out.Code)
		}
		if !strings.Contains(out.Error, tc.want) {
			t.Fatalf("%s: error = %q, want it to mention %q", tc.name, out.Error, tc.want)
		}
	}
	if n := len(h.record(t).Cart.Items); n != 0 {
		t.Fatalf("rejected calls changed the cart: %d lines", n)
	}
}

func TestCartOrderFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	h.mustInvoke(t, ToolAddItem, map[string]any{"item_id": "milk-1l", "quantity": float64(2)})
	h.mustInvoke(t, ToolAddItem, map[string]any{"item_id": "milk-1l"})

	out := h.invoke(t, ToolPlaceOrder, nil)
	if out.Code != contractx.CodeRejected {
		t.Fatalf("place without customer code = %q, want rejected", out.Code)
	}

	h.mustInvoke(t, ToolSetCustomer, map[string]any{"name": "Asha", "address": "12 MG Road"})
	placed := h.mustInvoke(t, ToolPlaceOrder, map[string]any{})
	if !placed.Control.Checkpoint {
		t.Fatal("place_order must request a checkpoint")
	}

	rec := h.record(t)
	orderID, _ := placed.Result.(map[string]any)["order_id"].(string)
	if !strings.HasPrefix(orderID, "FM-20250314093000-") || rec.ID != orderID {
		t.Fatalf("order id = %q record id = %q, want the record keyed by the order", orderID, rec.ID)
	}
	if rec.Cart.Items["milk-1l"] != 3 {
		t.Fatalf("milk quantity = %d, want 3", rec.Cart.Items["milk-1l"])
	}
	if rec.Cart.Status != domain.CartPlaced || rec.Cart.Total() != 3*6800+2900 {
		t.Fatalf("unexpected cart: %+v", rec.Cart)
	}

	again := h.invoke(t, ToolAddItem, map[string]any{"item_id": "eggs-12"})
	if again.Code != contractx.CodeRejected {
		t.Fatalf("add after placing code = %q, want rejected", again.Code)
	}
}

func TestAddRecipeIsAllOrNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	h.mustInvoke(t, ToolAddItem, map[string]any{"item_id": "peanut-butter", "quantity": float64(99)})

	out := h.invoke(t, ToolAddRecipe, map[string]any{"recipe": "peanut butter sandwich"})
	if !out.Failed() {
		t.Fatal("expected recipe to fail on the full peanut butter line")
	}
	if _, ok := h.record(t).Cart.Items["bread-white"]; ok {
		t.Fatal("failed recipe left bread in the cart")
	}

	h.mustInvoke(t, ToolUpdateQuantity, map[string]any{"item_id": "peanut-butter", "quantity": float64(0)})
	h.mustInvoke(t, ToolAddRecipe, map[string]any{"recipe": "sandwich"})
	items := h.record(t).Cart.Items
	if items["bread-white"] != 1 || items["peanut-butter"] != 1 {
		t.Fatalf("items = %#v", items)
	}
}

func TestSearchCatalogReturnsPrices(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	out := h.mustInvoke(t, ToolSearchCatalog, map[string]any{"query": "milk"})
	res := out.Result.(map[string]any)
	products := res["products"].([]productView)
	if len(products) == 0 || products[0].ID != "milk-1l" {
		t.Fatalf("products = %#v", products)
	}
}

func TestLookupAndVerifyCase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "leo")
	out := h.mustInvoke(t, ToolLookupCase, map[string]any{"username": "John"})
	res := out.Result.(map[string]any)
	if res["case_id"] != "FRD-1001" {
		t.Fatalf("case_id = %v", res["case_id"])
	}
	if _, leaked := res["security_answer"]; leaked {
		t.Fatal("lookup must not reveal the security answer")
	}
	if h.record(t).ID != "FRD-1001" {
		t.Fatalf("record id = %s, want the case id", h.record(t).ID)
	}

	first := h.mustInvoke(t, ToolVerifyIdentity, map[string]any{"answer": "rex"})
	if first.Control.Checkpoint {
		t.Fatal("first failed attempt should not checkpoint")
	}
	second := h.mustInvoke(t, ToolVerifyIdentity, map[string]any{"answer": "max"})
	if !second.Control.Checkpoint {
		t.Fatal("verification failure must checkpoint")
	}
	if got := h.record(t).Case.State; got != domain.CaseVerificationFailed {
		t.Fatalf("state = %s", got)
	}

	confirm := h.invoke(t, ToolConfirmTransaction, map[string]any{"authorized": false})
	if confirm.Code != contractx.CodeRejected {
		t.Fatalf("confirm after failure code = %q, want rejected", confirm.Code)
	}
}

func TestConfirmFraudCheckpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "leo")
	h.mustInvoke(t, ToolLookupCase, map[string]any{"username": "john"})
	h.mustInvoke(t, ToolVerifyIdentity, map[string]any{"answer": " Bruno "})
	out := h.mustInvoke(t, ToolConfirmTransaction, map[string]any{"authorized": false})
	if !out.Control.Checkpoint {
		t.Fatal("confirm_transaction must checkpoint")
	}
	if got := h.record(t).Case.State; got != domain.CaseConfirmedFraud {
		t.Fatalf("state = %s", got)
	}
}

type stubLoader struct {
	rec   *domain.Record
	err   error
	block bool
}

func (s stubLoader) Load(ctx context.Context, _ domain.Kind, _ string) (*domain.Record, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.rec, s.err
}

func (s stubLoader) List(context.Context, domain.Kind, func(*domain.Record) bool) ([]*domain.Record, error) {
	return nil, s.err
}

// orderBook serves stored cart records by id.
type orderBook map[string]*domain.Record

func (b orderBook) Load(_ context.Context, kind domain.Kind, id string) (*domain.Record, error) {
	rec, ok := b[id]
	if !ok || rec.Kind != kind {
		return nil, fmt.Errorf("%w: %s/%s", contractx.ErrNotFound, kind, id)
	}
	return rec.Clone(), nil
}

func (b orderBook) List(_ context.Context, kind domain.Kind, keep func(*domain.Record) bool) ([]*domain.Record, error) {
	var out []*domain.Record
	for _, rec := range b {
		if rec.Kind == kind && (keep == nil || keep(rec)) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func placedOrder(t *testing.T, customer, ref string, at time.Time) *domain.Record {
	t.Helper()
	rec, _ := domain.New(domain.KindCart, "sess-old")
	if _, err := rec.Cart.Add(domain.DefaultCatalog(), "eggs-12", 1); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := rec.Cart.SetCustomer(customer, "12 MG Road"); err != nil {
		t.Fatalf("SetCustomer() error = %v", err)
	}
	id, err := rec.Cart.Place(at, ref)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	rec.ID = id
	return rec
}

func (b orderBook) add(rec *domain.Record) { b[rec.ID] = rec }

func TestLookupCaseRejectsClosedCase(t *testing.T) {
	t.Parallel()

	closed, _ := domain.New(domain.KindCase, "FRD-1001")
	closed.Case.CaseID = "FRD-1001"
	closed.Case.State = domain.CaseConfirmedSafe

	h := newHarness(t, "leo", WithRecordLoader(stubLoader{rec: closed}))
	out := h.invoke(t, ToolLookupCase, map[string]any{"username": "john"})
	if out.Code != contractx.CodeRejected {
		t.Fatalf("code = %q, want rejected", out.Code)
	}
	if h.record(t).Case.Loaded() {
		t.Fatal("closed case must not be loaded")
	}
}

func TestSlowLookupTimesOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "leo", WithRecordLoader(stubLoader{block: true}), WithTimeout(20*time.Millisecond))
	out := h.invoke(t, ToolLookupCase, map[string]any{"username": "john"})
	if out.Code != contractx.CodeTimeout {
		t.Fatalf("code = %q, want timeout (%s)", out.Code, out.Error)
	}
}

func TestSkillCheckUsesInjectedRoll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "gm", WithRoll(func(int) int { return 19 }))
	out := h.mustInvoke(t, ToolSkillCheck, map[string]any{"skill": "Strength"})
	res := out.Result.(domain.CheckResult)
	if res.Roll != 20 || res.DC != 12 || res.Outcome != domain.OutcomeCriticalSuccess {
		t.Fatalf("unexpected check: %+v", res)
	}
}

func TestAdjustHealthToZeroEndsArc(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "gm")
	out := h.mustInvoke(t, ToolAdjustHealth, map[string]any{"delta": float64(-100), "reason": "dragon fire"})
	if !out.Control.ArcEnded || !out.Control.Checkpoint {
		t.Fatalf("control = %+v, want arc ended with checkpoint", out.Control)
	}
	if h.record(t).Character.Health != 0 {
		t.Fatalf("health = %d", h.record(t).Character.Health)
	}
}

func TestSpendingMoreGoldThanHeldIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "gm")
	out := h.invoke(t, ToolAdjustGold, map[string]any{"delta": float64(-51)})
	if out.Code != contractx.CodeRejected {
		t.Fatalf("code = %q, want rejected", out.Code)
	}
	if h.record(t).Character.Gold != 50 {
		t.Fatalf("gold = %d, want 50", h.record(t).Character.Gold)
	}
}

func TestSetModeHandsOffToModeTutor(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "tutor-learn")
	h.mustInvoke(t, ToolSelectConcept, map[string]any{"concept_id": "loops"})
	out := h.mustInvoke(t, ToolSetMode, map[string]any{"mode": "quiz"})
	if out.Control.HandoffTo != "tutor-quiz" {
		t.Fatalf("handoff = %q, want tutor-quiz", out.Control.HandoffTo)
	}
	if got := h.record(t).Quiz.Mode; got != domain.ModeQuiz {
		t.Fatalf("mode = %s", got)
	}

	stay := h.mustInvoke(t, ToolSetMode, map[string]any{"mode": "learn"})
	if stay.Control.HandoffTo != "" {
		t.Fatalf("same tutor should not hand off, got %q", stay.Control.HandoffTo)
	}
}

func TestHandoffStaysInDomain(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "tutor-learn")
	out := h.invoke(t, ToolHandoff, map[string]any{"persona_id": "leo"})
	if out.Code != contractx.CodeRejected {
		t.Fatalf("cross-domain handoff code = %q, want rejected", out.Code)
	}
	ok := h.mustInvoke(t, ToolHandoff, map[string]any{"persona_id": "tutor-teachback"})
	if ok.Control.HandoffTo != "tutor-teachback" {
		t.Fatalf("handoff = %q", ok.Control.HandoffTo)
	}
}

func TestLeadCaptureEndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robin")
	bad := h.invoke(t, ToolSaveLead, map[string]any{"name": "Dev", "email": "not an email"})
	if bad.Code != contractx.CodeInvalidArguments {
		t.Fatalf("bad email code = %q", bad.Code)
	}
	if h.record(t).Lead.Name != "" {
		t.Fatal("rejected patch must not write any field")
	}

	h.mustInvoke(t, ToolSaveLead, map[string]any{"name": "Dev", "email": "dev@acme.io", "timeline": "Soon"})
	out := h.mustInvoke(t, ToolEndCallSummary, map[string]any{"summary": "Wants a pilot next month."})
	if !out.Control.EndSession || !out.Control.Checkpoint {
		t.Fatalf("control = %+v", out.Control)
	}
	lead := h.record(t).Lead
	if lead.Status != domain.LeadCaptured || lead.Timeline != domain.TimelineSoon {
		t.Fatalf("unexpected lead: %+v", lead)
	}
}

func TestInfosFollowAllowedTools(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	reg, _ := persona.Load("")
	robert, _ := reg.Get("robert")

	infos := h.dispatcher.Infos(robert)
	names := robert.AllowedTools()
	if len(infos) != len(names) {
		t.Fatalf("Infos() = %d, want %d", len(infos), len(names))
	}
	for i, info := range infos {
		if info.Name != names[i] {
			t.Fatalf("info[%d] = %s, want %s", i, info.Name, names[i])
		}
		if info.ParamsOneOf == nil {
			t.Fatalf("%s has no parameter schema", info.Name)
		}
	}
}

func TestNewDispatcherRejectsUnknownPersonaTool(t *testing.T) {
	t.Parallel()

	data := []byte(`
default: x
personas:
  - id: x
    voice_id: v
    domain: cart
    template: t
    tools: [fly]
`)
	reg, err := persona.Parse(data, "", func(string) (string, error) { return "be helpful", nil })
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := NewDispatcher(reg, state.NewDomainStore()); err == nil {
		t.Fatal("expected unknown tool to be rejected")
	}
}

func TestOrdersPlacedInOneSecondGetDistinctIDs(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		h := newHarness(t, "robert")
		h.mustInvoke(t, ToolAddItem, map[string]any{"item_id": "milk-1l"})
		h.mustInvoke(t, ToolSetCustomer, map[string]any{"name": "Asha", "address": "12 MG Road"})
		h.mustInvoke(t, ToolPlaceOrder, nil)
		id := h.record(t).ID
		if id == h.session.ID || seen[id] {
			t.Fatalf("order record id = %q, seen before = %v", id, seen)
		}
		seen[id] = true
	}
}

func TestOrderStatusReadsStoredOrder(t *testing.T) {
	t.Parallel()

	book := orderBook{}
	old := placedOrder(t, "Asha", "old001", fixedNow.Add(-48*time.Hour))
	book.add(old)

	h := newHarness(t, "robert", WithRecordLoader(book))
	out := h.mustInvoke(t, ToolOrderStatus, map[string]any{"order_id": strings.ToLower(old.ID)})
	got, ok := out.Result.(orderView)
	if !ok || got.OrderID != old.ID || got.Status != string(domain.CartPlaced) || got.PlacedOn != "2025-03-12" {
		t.Fatalf("order_status = %#v", out.Result)
	}

	missing := h.invoke(t, ToolOrderStatus, map[string]any{"order_id": "FM-20240101000000-NOPE"})
	if missing.Code != contractx.CodeNotFound {
		t.Fatalf("unknown order code = %q, want not_found", missing.Code)
	}

	latest := h.mustInvoke(t, ToolOrderStatus, nil).Result.(map[string]any)
	if v, ok := latest["latest"].(orderView); !ok || v.OrderID != old.ID {
		t.Fatalf("order_status without id = %#v, want the latest stored order", latest)
	}
}

func TestPreviousOrdersListsNewestFirstForCustomer(t *testing.T) {
	t.Parallel()

	book := orderBook{}
	for i := 0; i < orderHistoryLimit+2; i++ {
		book.add(placedOrder(t, "Asha", fmt.Sprintf("asha%02d", i), fixedNow.Add(-time.Duration(i+1)*time.Hour)))
	}
	book.add(placedOrder(t, "Ravi", "ravi01", fixedNow.Add(-time.Minute)))
	open, _ := domain.New(domain.KindCart, "sess-open")
	book.add(open)

	h := newHarness(t, "robert", WithRecordLoader(book))
	h.mustInvoke(t, ToolSetCustomer, map[string]any{"name": "asha"})
	res := h.mustInvoke(t, ToolPreviousOrders, nil).Result.(map[string]any)
	orders := res["orders"].([]orderView)
	if len(orders) != orderHistoryLimit {
		t.Fatalf("orders = %d, want %d", len(orders), orderHistoryLimit)
	}
	if !strings.HasSuffix(orders[0].OrderID, "-ASHA00") || !strings.HasSuffix(orders[4].OrderID, "-ASHA04") {
		t.Fatalf("orders not newest first: %v, %v", orders[0].OrderID, orders[4].OrderID)
	}
	for _, o := range orders {
		if o.Customer != "Asha" {
			t.Fatalf("order %s belongs to %s", o.OrderID, o.Customer)
		}
	}

	ravi := h.mustInvoke(t, ToolPreviousOrders, map[string]any{"customer_name": "Ravi"}).Result.(map[string]any)
	if got := ravi["orders"].([]orderView); len(got) != 1 || !strings.HasSuffix(got[0].OrderID, "-RAVI01") {
		t.Fatalf("ravi orders = %#v", got)
	}
}

func TestPreviousOrdersNeedsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "robert")
	if out := h.invoke(t, ToolPreviousOrders, nil); out.Code != contractx.CodeNotFound {
		t.Fatalf("code = %q, want not_found", out.Code)
	}
}

func TestMeetNPCShowsInPlayerStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "gm")
	h.mustInvoke(t, ToolMeetNPC, map[string]any{"name": "Yorick", "role": "innkeeper", "attitude": "friendly"})
	bad := h.invoke(t, ToolMeetNPC, map[string]any{"name": "Vesna", "role": "herbalist", "attitude": "smug"})
	if bad.Code != contractx.CodeInvalidArguments {
		t.Fatalf("bad attitude code = %q, want invalid_arguments", bad.Code)
	}

	status := h.mustInvoke(t, ToolPlayerStatus, nil).Result.(characterView)
	if len(status.NPCs) != 1 || status.NPCs[0].Name != "Yorick" || status.NPCs[0].Attitude != domain.AttitudeFriendly {
		t.Fatalf("npcs = %#v", status.NPCs)
	}
}
