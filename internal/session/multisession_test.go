package session

import (
	"testing"

	"github.com/plc-visualizer/backend/internal/models"
)

func TestDedupeMerged_TiesBreakOnSourceDeviceSignal(t *testing.T) {
	// All four entries share one timestamp and don't collide on
	// (deviceId, signalName, value), so none are dropped; only the
	// tie-break ordering is under test. Entries are listed here in
	// reverse of their expected output order so a no-op sort would
	// fail the assertion below.
	entries := []models.LogEntry{
		{TimestampMillis: 1000, SourceID: "b", DeviceID: "D2", SignalName: "S1", Value: "1"},
		{TimestampMillis: 1000, SourceID: "b", DeviceID: "D1", SignalName: "S2", Value: "2"},
		{TimestampMillis: 1000, SourceID: "b", DeviceID: "D1", SignalName: "S1", Value: "3"},
		{TimestampMillis: 1000, SourceID: "a", DeviceID: "D9", SignalName: "S9", Value: "4"},
	}

	out := dedupeMerged(entries)
	if len(out) != len(entries) {
		t.Fatalf("dedupeMerged dropped entries despite no (deviceId, signalName, value) collision: got %d, want %d", len(out), len(entries))
	}

	wantValues := []string{"4", "3", "2", "1"}
	for i, v := range wantValues {
		if out[i].Value != v {
			t.Fatalf("entry %d has value %q, want %q (tie-break order not (sourceId, deviceId, signalName): %+v)", i, out[i].Value, v, out)
		}
	}
}
