package registry

import "testing"

func TestAddRemove_RoundTrip(t *testing.T) {
	r := New("sensor")
	r.Add("a")
	before := r.URIs()

	r.Add("u")
	r.Remove("u")

	after := r.URIs()
	if len(before) != len(after) {
		t.Fatalf("add;remove changed registry size: before=%v after=%v", before, after)
	}
}

func TestSetBrokers_DropsDuplicatesPreservesOrder(t *testing.T) {
	r := New("sensor")
	r.SetBrokers([]string{"a", "b", "a", "c", "b"})

	got := r.URIs()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("URIs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("URIs() = %v, want %v", got, want)
		}
	}
}

func TestRemove_ReanchorsCurrentIndex(t *testing.T) {
	r := New("sensor")
	r.SetBrokers([]string{"a", "b", "c"})
	r.SetCurrent("c")

	// Removing an entry before current shifts current left, same URI.
	r.Remove("a")
	if uri, _ := r.CurrentURI(); uri != "c" {
		t.Fatalf("CurrentURI() after removing earlier entry = %q, want %q", uri, "c")
	}

	// Removing the current entry clamps to the new last index.
	r.Remove("c")
	if uri, ok := r.CurrentURI(); !ok || uri != "b" {
		t.Fatalf("CurrentURI() after removing current entry = %q,%v want %q", uri, ok, "b")
	}
}

func TestOnlyOneCurrentAtATime(t *testing.T) {
	r := New("sensor")
	r.SetBrokers([]string{"a", "b", "c"})
	r.SetCurrent("b")

	all := r.All()
	count := 0
	cur, _ := r.CurrentURI()
	for _, b := range all {
		if b.URI == cur {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one current broker, counted %d", count)
	}
}

func TestScoreInvariant_UnavailableIsZero(t *testing.T) {
	r := New("sensor")
	r.Add("a")
	r.UpdateMetrics("a", 10, 2_000_000, 10)
	r.MarkUnavailable("a")

	all := r.All()
	if all[0].Score != 0 {
		t.Fatalf("unavailable broker score = %v, want 0", all[0].Score)
	}
	if all[0].Available {
		t.Fatalf("broker still marked available after MarkUnavailable")
	}
}

func TestMarkUnavailableThenAvailable_RestoresScore(t *testing.T) {
	r := New("sensor")
	r.Add("a")
	r.UpdateMetrics("a", 10, 2_000_000, 10)
	before := r.All()[0].Score

	r.MarkUnavailable("a")
	r.MarkAvailable("a")

	after := r.All()[0]
	if !after.Available {
		t.Fatalf("broker not marked available after MarkAvailable")
	}
	if after.Score != before {
		t.Fatalf("score after mark-unavailable;mark-available = %v, want %v", after.Score, before)
	}
}

func TestBest_TiesBrokenByRegistrationOrder(t *testing.T) {
	r := New("sensor")
	r.SetBrokers([]string{"a", "b"})
	r.UpdateMetrics("a", 10, 2_000_000, 10)
	r.UpdateMetrics("b", 10, 2_000_000, 10)
	r.MarkAvailable("a")
	r.MarkAvailable("b")

	best, ok := r.Best()
	if !ok || best.URI != "a" {
		t.Fatalf("Best() = %+v, want tie broken toward first-registered %q", best, "a")
	}
}

func TestShouldSwitch_Hysteresis(t *testing.T) {
	r := New("sensor")
	r.SetBrokers([]string{"b", "c"})
	r.MarkAvailable("b")
	r.MarkAvailable("c")
	r.SetCurrent("b")

	// Metrics below are solved against the sensor profile (0.6/0.2/0.2):
	// score = 0.6·(1−latency/100) + 0.2·min(1, bw/1M) + 0.2·(1−conns/100).

	// current=0.70, challenger=0.78: difference 0.08, below threshold.
	r.UpdateMetrics("b", 10, 800_000, 0)    // 0.54 + 0.16 + 0    = 0.70
	r.UpdateMetrics("c", 10, 1_000_000, 80) // 0.54 + 0.20 + 0.04 = 0.78
	if r.ShouldSwitch() {
		t.Fatalf("ShouldSwitch() = true at 0.08 advantage, want false")
	}

	// challenger rises to 0.82: difference 0.12, above threshold.
	r.UpdateMetrics("c", 10, 1_000_000, 60) // 0.54 + 0.20 + 0.08 = 0.82
	if !r.ShouldSwitch() {
		t.Fatalf("ShouldSwitch() = false at 0.12 advantage, want true")
	}
}
