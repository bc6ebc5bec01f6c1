package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJournal_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer j.Close()

	lsn1, err := j.Append(OpBatchCommitted, []byte(`{"source":"a"}`))
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if lsn1 != 1 {
		t.Errorf("Expected LSN 1, got %d", lsn1)
	}

	lsn2, err := j.Append(OpSourceCompleted, []byte(`{"source":"a","committed":3}`))
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if lsn2 != 2 {
		t.Errorf("Expected LSN 2, got %d", lsn2)
	}

	entries, err := j.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].OpType != OpBatchCommitted || entries[1].OpType != OpSourceCompleted {
		t.Errorf("Unexpected op types: %v, %v", entries[0].OpType, entries[1].OpType)
	}
	if entries[1].Timestamp == 0 {
		t.Error("Expected non-zero timestamp")
	}
}

func TestJournal_RecoversLSN(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := j.Append(OpBatchCommitted, []byte("x")); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	j.Close()

	j2, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen journal: %v", err)
	}
	defer j2.Close()

	if got := j2.CurrentLSN(); got != 3 {
		t.Errorf("Expected recovered LSN 3, got %d", got)
	}
	lsn, err := j2.Append(OpBatchCommitted, []byte("y"))
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if lsn != 4 {
		t.Errorf("Expected LSN 4, got %d", lsn)
	}
}

func TestJournal_TornTail(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	if _, err := j.Append(OpBatchCommitted, []byte("first")); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	j.Close()

	// simulate a crash mid-write
	f, err := os.OpenFile(filepath.Join(dir, JournalFile), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("Failed to open journal file: %v", err)
	}
	f.Write([]byte{0x02, 0x00, 0x00})
	f.Close()

	j2, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen journal: %v", err)
	}
	defer j2.Close()

	if _, err := j2.Append(OpBatchCommitted, []byte("second")); err != nil {
		t.Fatalf("Failed to append after torn tail: %v", err)
	}
	entries, err := j2.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after tail repair, got %d", len(entries))
	}
	if string(entries[1].Data) != "second" {
		t.Errorf("Expected 'second', got %q", entries[1].Data)
	}
}

func TestJournal_ChecksumMismatchStopsReplay(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	j.Append(OpBatchCommitted, []byte("good"))
	j.Append(OpBatchCommitted, []byte("flip"))
	j.Close()

	path := filepath.Join(dir, JournalFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	// corrupt the payload of the second entry
	second := entryOverhead + len("good")
	data[second+13] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	j2, err := OpenJournal(dir, nil)
	if err != nil {
		t.Fatalf("Failed to reopen journal: %v", err)
	}
	defer j2.Close()

	entries, _ := j2.ReadAll()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 valid entry, got %d", len(entries))
	}
}

func TestJournal_Truncate(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	defer j.Close()

	j.Append(OpBatchCommitted, []byte("a"))
	if err := j.Truncate(); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if j.CurrentLSN() != 0 {
		t.Errorf("Expected LSN 0 after truncate, got %d", j.CurrentLSN())
	}
	entries, _ := j.ReadAll()
	if len(entries) != 0 {
		t.Errorf("Expected empty journal, got %d entries", len(entries))
	}
	if lsn, _ := j.Append(OpBatchCommitted, []byte("b")); lsn != 1 {
		t.Errorf("Expected LSN 1 after truncate, got %d", lsn)
	}
}

func TestJournal_Closed(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	j.Close()
	if _, err := j.Append(OpBatchCommitted, nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}
