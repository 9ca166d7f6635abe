package fake

import (
	"testing"
	"time"

	"recommerce"
)

func TestCallRecorder(t *testing.T) {
	var r CallRecorder

	if _, ok := r.Last("Stop"); ok {
		t.Fatal("Last on empty recorder: want ok=false")
	}

	r.record("Create", recommerce.Product)
	r.record("PutArchive", "c1", recommerce.ConfigDir)
	r.record("Stop", "c1", time.Second)
	r.record("Stop", "c2", 2*time.Second)

	if got := r.Count("Stop"); got != 2 {
		t.Fatalf("Count(Stop): got %d, want 2", got)
	}
	if got := r.Calls("PutArchive"); len(got) != 1 || got[0].Args[1] != recommerce.ConfigDir {
		t.Fatalf("Calls(PutArchive): got %v", got)
	}
	if got := len(r.Calls("")); got != 4 {
		t.Fatalf("Calls(\"\"): got %d, want 4", got)
	}
	last, ok := r.Last("Stop")
	if !ok || last.Args[0] != "c2" || last.Args[1] != 2*time.Second {
		t.Fatalf("Last(Stop): got %+v, %v", last, ok)
	}
}
