package status

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventJSON_AllFields(t *testing.T) {
	version := "v3"
	updated := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := Event{Label: "7", Outcome: 1, Version: &version, UpdatedOn: &updated}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal to map failed: %v", err)
	}
	if raw["label"] != "7" {
		t.Errorf("expected label '7', got %v", raw["label"])
	}
	if raw["outcome"] != float64(1) {
		t.Errorf("expected outcome 1, got %v", raw["outcome"])
	}
	if raw["version"] != "v3" {
		t.Errorf("expected version 'v3', got %v", raw["version"])
	}
	if raw["updatedOn"] != "2024-01-01T00:00:00Z" {
		t.Errorf("expected ISO-8601 updatedOn, got %v", raw["updatedOn"])
	}
}

func TestEventJSON_NullOptionals(t *testing.T) {
	ev := Event{Label: "42", Outcome: 0}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	expected := `{"label":"42","outcome":0,"version":null,"updatedOn":null}`
	if string(data) != expected {
		t.Errorf("expected %s, got %s", expected, data)
	}
}

func TestEventJSON_RoundTrip(t *testing.T) {
	version := "2.1.0"
	updated := time.Date(2023, 6, 15, 12, 30, 45, 0, time.UTC)

	for _, ev := range []Event{
		{Label: "acct-1", Outcome: 0},
		{Label: "acct-2", Outcome: -1, Version: &version},
		{Label: "acct-3", Outcome: 7, Version: &version, UpdatedOn: &updated},
	} {
		data, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal %q failed: %v", ev.Label, err)
		}

		var decoded Event
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %q failed: %v", ev.Label, err)
		}

		if decoded.Label != ev.Label || decoded.Outcome != ev.Outcome {
			t.Errorf("round trip changed %q: got %+v", ev.Label, decoded)
		}
		if (decoded.Version == nil) != (ev.Version == nil) {
			t.Errorf("round trip changed version nilness for %q", ev.Label)
		}
		if ev.Version != nil && *decoded.Version != *ev.Version {
			t.Errorf("expected version %q, got %q", *ev.Version, *decoded.Version)
		}
		if (decoded.UpdatedOn == nil) != (ev.UpdatedOn == nil) {
			t.Errorf("round trip changed updatedOn nilness for %q", ev.Label)
		}
		if ev.UpdatedOn != nil && !decoded.UpdatedOn.Equal(*ev.UpdatedOn) {
			t.Errorf("expected updatedOn %v, got %v", ev.UpdatedOn, decoded.UpdatedOn)
		}
	}
}
