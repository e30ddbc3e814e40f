package history

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/corbin-hayes/coderelay/internal/config"
)

func configHistory(driver string) config.HistoryConfig {
	return config.HistoryConfig{Driver: driver}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestNewStore_NilDB(t *testing.T) {
	if _, err := NewStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestRecordAndStats(t *testing.T) {
	store := openTestStore(t)
	runs := []Run{
		{Server: "s1", UserID: "u1", UserName: "alice", Language: "python3", Status: "ok", DurationMS: 120},
		{Server: "s1", UserID: "u2", UserName: "bob", Language: "python3", Status: "ok", DurationMS: 90},
		{Server: "s2", UserID: "u1", UserName: "alice", Language: "go", Status: "fault", DurationMS: 15000},
	}
	for _, r := range runs {
		if err := store.Record(r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	total, langs, err := store.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(langs) != 2 {
		t.Fatalf("got %d language rows, want 2", len(langs))
	}
	if langs[0].Language != "python3" || langs[0].Count != 2 {
		t.Errorf("langs[0] = %+v", langs[0])
	}
	if langs[1].Language != "go" || langs[1].Count != 1 {
		t.Errorf("langs[1] = %+v", langs[1])
	}
}

func TestStats_Empty(t *testing.T) {
	store := openTestStore(t)
	total, langs, err := store.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if total != 0 || len(langs) != 0 {
		t.Errorf("total = %d, langs = %v", total, langs)
	}
}

func TestCountSince(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record(Run{Language: "go", Status: "ok"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := store.CountSince(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}

	n, err = store.CountSince(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(configHistory("postgres"))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := configHistory("sqlite")
	cfg.Path = t.TempDir() + "/runs.db"
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Record(Run{Language: "rust", Status: "ok"}); err != nil {
		t.Fatalf("record: %v", err)
	}
}
