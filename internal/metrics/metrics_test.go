package metrics

import "testing"

func TestSnapshotZeroValueBeforeSessionStarted(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	if snap.SessionDuration != 0 {
		t.Fatalf("expected zero duration before SessionStarted, got %v", snap.SessionDuration)
	}
	if snap.Thermal != "nominal" {
		t.Fatalf("expected default thermal state 'nominal', got %q", snap.Thermal)
	}
}

func TestRecordReconnectIncrements(t *testing.T) {
	c := NewCollector()
	c.RecordReconnect()
	c.RecordReconnect()
	if got := c.Snapshot().ReconnectCount; got != 2 {
		t.Fatalf("expected reconnect count 2, got %d", got)
	}
}

func TestQueueSecondsZeroWithoutDrainRate(t *testing.T) {
	c := NewCollector()
	c.SetQueueDepth(10, 0)
	if got := c.Snapshot().UploadQueueSeconds; got != 0 {
		t.Fatalf("expected 0 queue seconds with no observed drain rate, got %v", got)
	}
}

func TestQueueSecondsEstimatedFromDrainRate(t *testing.T) {
	c := NewCollector()
	c.SetQueueDepth(10, 5) // 5 msgs/sec drain, 10 queued -> 2s
	if got := c.Snapshot().UploadQueueSeconds; got != 2 {
		t.Fatalf("expected 2 queue seconds, got %v", got)
	}
}

func TestSetThermalReflectedInSnapshot(t *testing.T) {
	c := NewCollector()
	c.SetThermal("serious")
	if got := c.Snapshot().Thermal; got != "serious" {
		t.Fatalf("expected thermal 'serious', got %q", got)
	}
}
