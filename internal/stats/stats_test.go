package stats

import "testing"

func TestSnapshot(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()

	if snap.Goroutines <= 0 {
		t.Errorf("Goroutines = %d, want > 0", snap.Goroutines)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %f, want >= 0", snap.UptimeSeconds)
	}
}
