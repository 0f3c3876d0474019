package recordstore

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"flowsentry/config"
)

func TestNew_FallsBackToMemory(t *testing.T) {
	cfg := config.Defaults()
	store, err := New(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("expected memory store without a DSN, got %T", store)
	}
}

func TestMemoryStore_InsertAssignsID(t *testing.T) {
	store := NewMemoryStore()

	rec := &AlertRecord{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted}
	if err := store.InsertAlert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected an ID to be assigned")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestMemoryStore_CountFiltersStatusAndTime(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	records := []*AlertRecord{
		{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted, CreatedAt: base},
		{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted, CreatedAt: base.Add(2 * time.Minute)},
		{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusRejected, CreatedAt: base.Add(3 * time.Minute)},
		{Instrument: "BTC", Kind: "RISK_ALERT", Status: StatusAccepted, CreatedAt: base.Add(4 * time.Minute)},
		{Instrument: "ETH", Kind: "TRADE_ALERT", Status: StatusAccepted, CreatedAt: base.Add(5 * time.Minute)},
		{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted, CreatedAt: base.Add(-time.Hour)},
	}
	for _, rec := range records {
		if err := store.InsertAlert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	count, err := store.CountAlertsSince(ctx, "BTC", "TRADE_ALERT", base)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	// Rejected, other-kind, other-instrument and pre-window records are excluded.
	// A record created exactly at the boundary counts.
	if count != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestMemoryStore_LatestAcceptedSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if rec, err := store.LatestAcceptedSince(ctx, "BTC", "TRADE_ALERT", base); err != nil || rec != nil {
		t.Fatalf("expected nil, nil on empty store, got %v, %v", rec, err)
	}

	first := &AlertRecord{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted, Headline: "first", CreatedAt: base}
	second := &AlertRecord{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted, Headline: "second", CreatedAt: base.Add(time.Minute)}
	rejected := &AlertRecord{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusRejected, Headline: "noise", CreatedAt: base.Add(2 * time.Minute)}
	for _, rec := range []*AlertRecord{first, second, rejected} {
		if err := store.InsertAlert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	latest, err := store.LatestAcceptedSince(ctx, "BTC", "TRADE_ALERT", base)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Headline != "second" {
		t.Errorf("expected the most recent accepted record, got %+v", latest)
	}

	// Nothing inside a narrower window.
	latest, err = store.LatestAcceptedSince(ctx, "BTC", "TRADE_ALERT", base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil outside the window, got %+v", latest)
	}
}

func TestMemoryStore_UpdateAlert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &AlertRecord{Instrument: "ETH", Kind: "RISK_ALERT", Status: StatusAccepted, Confidence: 0.7, Headline: "initial"}
	if err := store.InsertAlert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	expiry := time.Now().Add(time.Hour)
	err := store.UpdateAlert(ctx, rec.ID, AlertUpdate{
		Confidence: 0.9,
		Headline:   "refreshed",
		Notes:      "updated in window",
		ExpiresAt:  &expiry,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	latest, err := store.LatestAcceptedSince(ctx, "ETH", "RISK_ALERT", time.Time{})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Confidence != 0.9 || latest.Headline != "refreshed" {
		t.Errorf("update not applied: %+v", latest)
	}
	if latest.Notes != "updated in window" {
		t.Errorf("unexpected notes: %s", latest.Notes)
	}
	if latest.ExpiresAt == nil || !latest.ExpiresAt.Equal(expiry) {
		t.Errorf("unexpected expiry: %v", latest.ExpiresAt)
	}
	if latest.UpdatedAt.Before(latest.CreatedAt) {
		t.Errorf("UpdatedAt went backwards: %v < %v", latest.UpdatedAt, latest.CreatedAt)
	}

	if err := store.UpdateAlert(ctx, "missing-id", AlertUpdate{}); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestMemoryStore_InsertReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &AlertRecord{Instrument: "BTC", Kind: "TRADE_ALERT", Status: StatusAccepted, Headline: "original"}
	if err := store.InsertAlert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Mutating the caller's record must not change the stored one.
	rec.Headline = "mutated"

	latest, err := store.LatestAcceptedSince(ctx, "BTC", "TRADE_ALERT", time.Time{})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Headline != "original" {
		t.Errorf("stored record aliased the caller's: %s", latest.Headline)
	}
}

func TestMemoryStore_Traces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, rec := range []*TraceRecord{
		{Instrument: "BTC", Decision: "NO_ALERT", Confidence: 0.2},
		{Instrument: "BTC", Decision: "ALERT", Confidence: 0.9, Candidates: 1, LatencyMs: 850, Note: ""},
		{Instrument: "ETH", Decision: "NO_ALERT", Note: "skipped: no trades in window"},
	} {
		if err := store.InsertTrace(ctx, rec); err != nil {
			t.Fatalf("insert trace: %v", err)
		}
		if rec.ID == "" {
			t.Error("expected trace ID to be assigned")
		}
	}

	traces := store.Traces()
	if len(traces) != 3 {
		t.Fatalf("expected 3 traces, got %d", len(traces))
	}
	if traces[1].Decision != "ALERT" || traces[1].LatencyMs != 850 {
		t.Errorf("unexpected trace: %+v", traces[1])
	}
}
