package snapshot

import (
	"testing"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	d, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestStore(t *testing.T, retentionMonths int) *Store {
	t.Helper()
	store, err := NewStore(&Config{Dir: t.TempDir(), RetentionMonths: retentionMonths})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func sampleHoldings(snapshotDate string) []*models.CanonicalHolding {
	qty := decimal.NewFromInt(150)
	return []*models.CanonicalHolding{
		{
			SnapshotDate:    date(snapshotDate),
			AssetID:         "FUND_X",
			AssetName:       "Fund X",
			AssetType:       "fund",
			Quantity:        &qty,
			MarketPriceUnit: decimal.NewFromFloat(1.25),
			MarketValueRaw:  decimal.NewFromFloat(187.5),
			MarketValueBase: decimal.NewFromFloat(187.5),
			Currency:        "CNY",
			FxRate:          decimal.NewFromInt(1),
			Account:         "A",
		},
	}
}

func TestStore_WriteLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, 0)
	holdings := sampleHoldings("2024-03-31")

	if err := store.Write(date("2024-03-31"), holdings, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap, err := store.Load(date("2024-03-31"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Date != "2024-03-31" {
		t.Errorf("Date = %q, want 2024-03-31", snap.Date)
	}
	if len(snap.Holdings) != 1 || !snap.Holdings[0].Equal(holdings[0]) {
		t.Errorf("loaded holdings do not match written ones: %+v", snap.Holdings)
	}
}

func TestStore_WriteOncePerDate(t *testing.T) {
	store := newTestStore(t, 0)
	day := date("2024-03-31")

	if err := store.Write(day, sampleHoldings("2024-03-31"), false); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	err := store.Write(day, nil, false)
	if err == nil {
		t.Fatal("second Write succeeded, want rejection")
	}
	if !errors.HasCode(err, errors.CodeSnapshotExists) {
		t.Errorf("error = %v, want code %s", err, errors.CodeSnapshotExists)
	}

	// Replace overwrites.
	if err := store.Write(day, nil, true); err != nil {
		t.Fatalf("replace Write: %v", err)
	}
	snap, err := store.Load(day)
	if err != nil {
		t.Fatalf("Load after replace: %v", err)
	}
	if len(snap.Holdings) != 0 {
		t.Errorf("Holdings = %d rows, want 0 after replace", len(snap.Holdings))
	}
}

func TestStore_ListAndLatest(t *testing.T) {
	store := newTestStore(t, 0)
	for _, day := range []string{"2024-03-31", "2024-01-31", "2024-02-29"} {
		if err := store.Write(date(day), sampleHoldings(day), false); err != nil {
			t.Fatalf("Write(%s): %v", day, err)
		}
	}

	keys, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"2024-01-31", "2024-02-29", "2024-03-31"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Date != "2024-03-31" {
		t.Errorf("Latest.Date = %q, want 2024-03-31", latest.Date)
	}
}

func TestStore_LatestEmpty(t *testing.T) {
	store := newTestStore(t, 0)

	_, err := store.Latest()
	if !errors.HasCode(err, errors.CodeSnapshotNotFound) {
		t.Errorf("error = %v, want code %s", err, errors.CodeSnapshotNotFound)
	}
}

func TestStore_PruneRespectsRetentionAndKeepDate(t *testing.T) {
	store := newTestStore(t, 12)
	days := []string{"2022-06-30", "2023-02-28", "2023-06-30", "2024-03-31"}
	for _, day := range days {
		if err := store.Write(date(day), nil, false); err != nil {
			t.Fatalf("Write(%s): %v", day, err)
		}
	}

	// Cutoff is 2023-03-31; the two older snapshots go.
	removed, err := store.Prune(date("2024-03-31"))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 2 || removed[0] != "2022-06-30" || removed[1] != "2023-02-28" {
		t.Errorf("removed = %v, want [2022-06-30 2023-02-28]", removed)
	}

	keys, _ := store.List()
	if len(keys) != 2 {
		t.Errorf("List after prune = %v, want 2 entries", keys)
	}
}

func TestStore_PruneNeverRemovesKeepDate(t *testing.T) {
	store := newTestStore(t, 1)
	if err := store.Write(date("2020-01-31"), nil, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A prune keyed on the snapshot's own date must leave it in place.
	removed, err := store.Prune(date("2020-01-31"))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	if _, err := store.Load(date("2020-01-31")); err != nil {
		t.Errorf("keep-date snapshot removed: %v", err)
	}
}

func TestStore_PruneDisabled(t *testing.T) {
	store := newTestStore(t, 0)
	if err := store.Write(date("2010-01-31"), nil, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	removed, err := store.Prune(date("2024-03-31"))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != nil {
		t.Errorf("removed = %v, want nil with retention disabled", removed)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (&Config{Dir: "", RetentionMonths: 0}).Validate(); err == nil {
		t.Error("empty dir should fail validation")
	}
	if err := (&Config{Dir: "/tmp/snaps", RetentionMonths: -1}).Validate(); err == nil {
		t.Error("negative retention should fail validation")
	}
	if err := (&Config{Dir: "/tmp/snaps", RetentionMonths: 6}).Validate(); err != nil {
		t.Errorf("valid config failed: %v", err)
	}
}
