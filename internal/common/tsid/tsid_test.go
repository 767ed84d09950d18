package tsid

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

var crockford = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{13}$`)

func TestGenerateFormat(t *testing.T) {
	id := Generate()
	if !crockford.MatchString(id) {
		t.Errorf("Generate() = %q, want 13 uppercase Crockford Base32 characters", id)
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := Generate()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateConcurrent(t *testing.T) {
	var ids sync.Map
	var wg sync.WaitGroup
	const goroutines, perGoroutine = 10, 1000

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := Generate()
				if _, loaded := ids.LoadOrStore(id, true); loaded {
					t.Errorf("duplicate ID under concurrency: %s", id)
				}
			}
		}()
	}
	wg.Wait()

	count := 0
	ids.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	if count != goroutines*perGoroutine {
		t.Errorf("got %d unique IDs, want %d", count, goroutines*perGoroutine)
	}
}

func TestGenerateSortable(t *testing.T) {
	// Sortable at millisecond granularity only, so force distinct timestamps.
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = Generate()
		time.Sleep(2 * time.Millisecond)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("not sortable: %s followed %s", ids[i], ids[i-1])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	id := Generate()

	n, err := ToLong(id)
	if err != nil {
		t.Fatalf("ToLong(%q): %v", id, err)
	}
	if got := ToString(n); got != id {
		t.Errorf("ToString(ToLong(%q)) = %q", id, got)
	}
}

func TestGetTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := Generate()
	after := time.Now().Add(time.Second)

	ts, err := GetTimestamp(id)
	if err != nil {
		t.Fatalf("GetTimestamp(%q): %v", id, err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", ts, before, after)
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := ToLong("not*a*tsid!!!"); err == nil {
		t.Error("expected error for invalid characters")
	}
}

func BenchmarkGenerate(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Generate()
	}
}
