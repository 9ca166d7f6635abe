package sqlite

import (
	"encoding/csv"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"recommerce"
	"recommerce/internal/adapter/fake"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func insertOne(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.InsertGroup(t.Context(), []recommerce.ContainerRecord{{
		ContainerID: id,
		Config:      `{"environment":{"task":"training"}}`,
		StartedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		StartedBy:   recommerce.RoleWebserver,
		GroupID:     "g-" + id,
	}})
	if err != nil {
		t.Fatalf("InsertGroup: %v", err)
	}
}

func TestInsertGroupSetsSharedGroupFields(t *testing.T) {
	store := openTestStore(t)
	started := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)

	records := []recommerce.ContainerRecord{
		{ContainerID: "a", Config: "{}", StartedAt: started, StartedBy: recommerce.RoleDeveloper, GroupID: "g1", GroupSize: 99},
		{ContainerID: "b", Config: "{}", StartedAt: started, StartedBy: recommerce.RoleDeveloper, GroupID: "g1"},
	}
	if err := store.InsertGroup(t.Context(), records); err != nil {
		t.Fatalf("InsertGroup: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		got, found, err := store.Get(t.Context(), id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if !found {
			t.Fatalf("Get(%s): not found", id)
		}
		if got.GroupSize != 2 {
			t.Errorf("%s GroupSize: got %d, want 2", id, got.GroupSize)
		}
		if got.GroupID != "g1" {
			t.Errorf("%s GroupID: got %q, want g1", id, got.GroupID)
		}
		if !got.StartedAt.Equal(started) {
			t.Errorf("%s StartedAt: got %v, want %v", id, got.StartedAt, started)
		}
		if got.StartedBy != recommerce.RoleDeveloper {
			t.Errorf("%s StartedBy: got %q, want developer", id, got.StartedBy)
		}
	}
}

func TestInsertGroupIsAtomic(t *testing.T) {
	store := openTestStore(t)
	insertOne(t, store, "dup")

	err := store.InsertGroup(t.Context(), []recommerce.ContainerRecord{
		{ContainerID: "fresh", GroupID: "g2"},
		{ContainerID: "dup", GroupID: "g2"},
	})
	if err == nil {
		t.Fatal("expected primary key violation")
	}
	if _, found, _ := store.Get(t.Context(), "fresh"); found {
		t.Fatal("partial group must not be written")
	}
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	_, found, err := store.Get(t.Context(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestRecordAccessAppendsMonotone(t *testing.T) {
	clock := fake.NewClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	clock.Step = time.Millisecond
	store := openTestStore(t, WithClock(clock.Now))
	insertOne(t, store, "c1")

	for range 3 {
		if err := store.RecordAccess(t.Context(), "c1", recommerce.AccessHealth); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}
	if err := store.RecordAccess(t.Context(), "c1", recommerce.AccessLogs); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}

	got, _, err := store.Get(t.Context(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	health := strings.Split(got.Health, ";")
	if len(health) != 3 {
		t.Fatalf("health: got %d entries (%q), want 3", len(health), got.Health)
	}
	for i := 1; i < len(health); i++ {
		if health[i] < health[i-1] {
			t.Errorf("health not monotone: %q", got.Health)
		}
	}
	if strings.Count(got.Logs, ";") != 0 || got.Logs == "" {
		t.Errorf("logs: got %q, want one timestamp", got.Logs)
	}
	if got.Paused != "" {
		t.Errorf("paused: got %q, want empty", got.Paused)
	}
}

func TestRecordAccessSurvivesClockGoingBack(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
	}
	i := 0
	store := openTestStore(t, WithClock(func() time.Time {
		tm := times[i]
		i++
		return tm
	}))
	insertOne(t, store, "c1")

	for range 2 {
		if err := store.RecordAccess(t.Context(), "c1", recommerce.AccessData); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}
	got, _, _ := store.Get(t.Context(), "c1")
	parts := strings.Split(got.Data, ";")
	if len(parts) != 2 || parts[1] < parts[0] {
		t.Fatalf("data: got %q, want two non-decreasing stamps", got.Data)
	}
}

func TestRecordAccessConcurrent(t *testing.T) {
	store := openTestStore(t)
	insertOne(t, store, "c1")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.RecordAccess(t.Context(), "c1", recommerce.AccessTensorBoard); err != nil {
				t.Errorf("RecordAccess: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _, _ := store.Get(t.Context(), "c1")
	if n := len(strings.Split(got.TensorBoard, ";")); n != 20 {
		t.Fatalf("tensorboard: got %d entries, want 20", n)
	}
}

func TestRecordAccessUnknownKind(t *testing.T) {
	store := openTestStore(t)
	if err := store.RecordAccess(t.Context(), "c1", recommerce.AccessKind("config; DROP TABLE container")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRecordTerminalFirstWriteWins(t *testing.T) {
	store := openTestStore(t)
	insertOne(t, store, "c1")

	ok, err := store.RecordTerminal(t.Context(), "c1", recommerce.FieldExitStatus, "7")
	if err != nil || !ok {
		t.Fatalf("first write: ok=%v err=%v", ok, err)
	}
	ok, err = store.RecordTerminal(t.Context(), "c1", recommerce.FieldExitStatus, "137")
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if ok {
		t.Fatal("second write should be dropped")
	}

	got, _, _ := store.Get(t.Context(), "c1")
	if got.ExitStatus != "7" {
		t.Fatalf("exit_status: got %q, want 7", got.ExitStatus)
	}
}

func TestReaperThenRemove(t *testing.T) {
	store := openTestStore(t)
	insertOne(t, store, "x")

	if err := store.RecordExit(t.Context(), "x", 7); err != nil {
		t.Fatalf("RecordExit: %v", err)
	}
	if err := store.RecordStop(t.Context(), "x", 137, true); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}

	got, _, _ := store.Get(t.Context(), "x")
	if got.ExitStatus != "7" {
		t.Errorf("exit_status: got %q, want 7", got.ExitStatus)
	}
	if got.ForceStop != "false" {
		t.Errorf("force_stop: got %q, want false", got.ForceStop)
	}
	if got.ExitedAt == "" || got.StoppedAt == "" {
		t.Errorf("expected exited_at and stopped_at set, got %q / %q", got.ExitedAt, got.StoppedAt)
	}
	for name, v := range map[string]string{
		"stopped_at": got.StoppedAt, "exited_at": got.ExitedAt,
		"exit_status": got.ExitStatus, "force_stop": got.ForceStop,
	} {
		if strings.Contains(v, ";") {
			t.Errorf("%s written more than once: %q", name, v)
		}
	}

	code, ok, err := store.ExitCode(t.Context(), "x")
	if err != nil || !ok || code != 7 {
		t.Fatalf("ExitCode: got %d ok=%v err=%v, want 7", code, ok, err)
	}
}

func TestRemoveWhileRunning(t *testing.T) {
	store := openTestStore(t)
	insertOne(t, store, "x")

	if err := store.RecordStop(t.Context(), "x", 137, true); err != nil {
		t.Fatalf("RecordStop: %v", err)
	}
	if err := store.RecordExit(t.Context(), "x", 137); err != nil {
		t.Fatalf("RecordExit: %v", err)
	}

	got, _, _ := store.Get(t.Context(), "x")
	if got.ForceStop != "true" {
		t.Errorf("force_stop: got %q, want true", got.ForceStop)
	}
	if got.ExitStatus != "137" {
		t.Errorf("exit_status: got %q, want 137", got.ExitStatus)
	}
}

func TestDumpContainerCSV(t *testing.T) {
	store := openTestStore(t)
	insertOne(t, store, "c1")
	insertOne(t, store, "c2")

	out, err := store.Dump(t.Context(), recommerce.TableContainer)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	r := csv.NewReader(strings.NewReader(out))
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want header + 2", len(rows))
	}
	if rows[0][0] != "container_id" || rows[0][len(rows[0])-1] != "data" {
		t.Errorf("header: got %v", rows[0])
	}
	if rows[1][1] != `{"environment":{"task":"training"}}` {
		t.Errorf("config column: got %q", rows[1][1])
	}
}

func TestAppendHostSampleAndDump(t *testing.T) {
	store := openTestStore(t)
	sample := recommerce.HostSample{
		SampledAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		CPU:       []float64{12.5, 50},
		RAM:       recommerce.MemorySummary{Total: 100, Available: 40, Percent: 60},
		IO:        recommerce.DiskCounters{ReadCount: 3, WriteBytes: 4096},
	}
	for range 2 {
		if err := store.AppendHostSample(t.Context(), sample); err != nil {
			t.Fatalf("AppendHostSample: %v", err)
		}
	}

	out, err := store.Dump(t.Context(), recommerce.TableSystem)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	r := csv.NewReader(strings.NewReader(out))
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want header + 2", len(rows))
	}
	if got := strings.Join(rows[0], ","); got != "sampled_at,cpu,ram,io" {
		t.Errorf("header: got %q", got)
	}
	if rows[1][1] != "[12.5,50]" {
		t.Errorf("cpu: got %q", rows[1][1])
	}
	if !strings.Contains(rows[1][3], `"write_bytes":4096`) {
		t.Errorf("io: got %q", rows[1][3])
	}
}

func TestDumpIncludesEarlierIncarnations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	insertOne(t, first, "old")
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	insertOne(t, second, "new")

	out, err := second.Dump(t.Context(), recommerce.TableContainer)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.Contains(out, "old") || !strings.Contains(out, "new") {
		t.Fatalf("dump missing rows: %q", out)
	}
}
