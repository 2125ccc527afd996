package infrastructure

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	wal, err := NewWAL(filepath.Join(t.TempDir(), "nested", "events.log"))
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	t.Cleanup(func() { wal.Close() })
	return wal
}

func TestWALAppendAndReadAll(t *testing.T) {
	wal := openTestWAL(t)

	first, err := wal.Append("certificate.issued", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := wal.Append("report.filed", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A torn write must not hide the entries around it.
	f, err := os.OpenFile(wal.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("{\"id\": \"broken\n")
	f.Close()

	entries, err := wal.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != first.ID || entries[0].Topic != "certificate.issued" || string(entries[0].Data) != `{"n":1}` {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
}

func TestWALCompact(t *testing.T) {
	wal := openTestWAL(t)
	wal.maxRetries = 2

	a, _ := wal.Append("a", []byte(`{}`))
	b, _ := wal.Append("b", []byte(`{}`))
	c, _ := wal.Append("c", []byte(`{}`))

	if err := wal.Compact([]string{a.ID}, []string{b.ID}); err != nil {
		t.Fatalf("compact: %v", err)
	}
	entries, _ := wal.ReadAll()
	if len(entries) != 2 || entries[0].ID != b.ID || entries[0].Retries != 1 || entries[1].ID != c.ID {
		t.Fatalf("unexpected entries after first compaction %+v", entries)
	}

	// b runs out of retries.
	if err := wal.Compact(nil, []string{b.ID}); err != nil {
		t.Fatalf("compact: %v", err)
	}
	entries, _ = wal.ReadAll()
	if len(entries) != 1 || entries[0].ID != c.ID {
		t.Fatalf("unexpected entries after second compaction %+v", entries)
	}

	// The reopened file still accepts appends.
	if _, err := wal.Append("d", []byte(`{}`)); err != nil {
		t.Fatalf("append after compaction: %v", err)
	}
	entries, _ = wal.ReadAll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
