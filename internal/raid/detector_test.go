package raid

import (
	"testing"
	"time"

	"github.com/groblegark/warden/internal/model"
)

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func observeAll(d *Detector, guildID int64, secs []int) *Activation {
	var act *Activation
	for i, s := range secs {
		j := d.Observe(guildID, int64(1000+i), at(s), model.RatePolicy{})
		if j.Triggered != nil {
			act = j.Triggered
		}
	}
	return act
}

func TestDetectorWindow(t *testing.T) {
	tests := []struct {
		name string
		secs []int
		want bool
	}{
		{"burst inside window", []int{0, 1, 2, 3, 4}, true},
		{"fifth join outside window", []int{0, 1, 2, 3, 11}, false},
		{"burst resumes after pause", []int{0, 1, 2, 3, 8, 9, 10, 11}, true},
		{"steady trickle", []int{0, 5, 10, 15, 20, 25, 30}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(5, 10*time.Second)
			act := observeAll(d, 1, tt.secs)
			if (act != nil) != tt.want {
				t.Fatalf("activation = %v, want triggered=%v", act, tt.want)
			}
		})
	}
}

func TestDetectorActivationDetails(t *testing.T) {
	d := New(5, 10*time.Second)
	act := observeAll(d, 7, []int{0, 1, 2, 3, 4})
	if act == nil {
		t.Fatal("no activation")
	}
	if act.GuildID != 7 || act.Window != 10*time.Second {
		t.Fatalf("activation = %+v", act)
	}
	if len(act.MemberIDs) != 5 || act.MemberIDs[0] != 1000 || act.MemberIDs[4] != 1004 {
		t.Fatalf("members = %v", act.MemberIDs)
	}
	if !act.DetectedAt.Equal(at(4)) {
		t.Fatalf("DetectedAt = %v, want %v", act.DetectedAt, at(4))
	}
	if !d.Active(7) {
		t.Fatal("guild not marked active after activation")
	}
}

func TestDetectorIdempotentWhileActive(t *testing.T) {
	d := New(5, 10*time.Second)
	if observeAll(d, 1, []int{0, 1, 2, 3, 4}) == nil {
		t.Fatal("no activation")
	}
	// Further joins over threshold do not retrigger.
	if observeAll(d, 1, []int{5, 6, 7, 8, 9}) != nil {
		t.Fatal("retriggered while active")
	}
	d.Reset(1)
	if d.Active(1) {
		t.Fatal("still active after reset")
	}
	if observeAll(d, 1, []int{20, 21, 22, 23, 24}) == nil {
		t.Fatal("no activation after reset")
	}
}

func TestDetectorGuildsIndependent(t *testing.T) {
	d := New(5, 10*time.Second)
	observeAll(d, 1, []int{0, 1, 2})
	observeAll(d, 2, []int{0, 1})
	if observeAll(d, 2, []int{2, 3}) != nil {
		t.Fatal("guild 2 triggered on guild 1's joins")
	}
	if observeAll(d, 1, []int{3, 4}) == nil {
		t.Fatal("guild 1 did not trigger")
	}
}

func TestDetectorFastJoins(t *testing.T) {
	d := New(0, 0)
	none := model.RatePolicy{}
	if d.Observe(1, 10, at(0), none).Fast {
		t.Fatal("first join marked fast")
	}
	if !d.Observe(1, 11, at(2), none).Fast {
		t.Fatal("join 2s after previous not fast")
	}
	if d.Observe(1, 12, at(10), none).Fast {
		t.Fatal("join 8s after previous marked fast")
	}
}

func TestDetectorPolicyOverride(t *testing.T) {
	d := New(100, time.Hour)
	policy := model.RatePolicy{Joins: 3, Per: 5 * time.Second}

	var act *Activation
	for i, s := range []int{0, 1, 2} {
		if j := d.Observe(1, int64(10+i), at(s), policy); j.Triggered != nil {
			act = j.Triggered
		}
	}
	if act == nil {
		t.Fatal("guild policy did not override detector defaults")
	}
	if len(act.MemberIDs) != 3 || act.Window != 5*time.Second {
		t.Fatalf("activation = %+v", act)
	}
}

func TestDetectorDefaults(t *testing.T) {
	d := New(0, 0)
	if d.threshold != DefaultThreshold || d.window != DefaultWindow {
		t.Fatalf("defaults not applied: threshold=%d window=%v", d.threshold, d.window)
	}
}

func TestDetectorMarkActive(t *testing.T) {
	d := New(5, 10*time.Second)
	d.MarkActive(3)
	if !d.Active(3) {
		t.Fatal("guild not active after MarkActive")
	}
	if observeAll(d, 3, []int{0, 1, 2, 3, 4}) != nil {
		t.Fatal("triggered while restored active")
	}
}
