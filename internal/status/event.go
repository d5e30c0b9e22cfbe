package status

import (
	"encoding/json"
	"time"
)

// Event is one decoded replication status record: the outcome of a downstream
// replication operation for a single account.
type Event struct {
	Label     string     // account identifier, also the subscription key
	Outcome   int        // consumer-defined status code (0 = success)
	Version   *string    // replicated schema/content version, if reported
	UpdatedOn *time.Time // upstream modification time, if reported
}

// wireEvent is the JSON shape pushed to subscribers. UpdatedOn is rendered as
// an ISO-8601 UTC string so that null optionals survive a round trip exactly.
type wireEvent struct {
	Label     string  `json:"label"`
	Outcome   int     `json:"outcome"`
	Version   *string `json:"version"`
	UpdatedOn *string `json:"updatedOn"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Label:   e.Label,
		Outcome: e.Outcome,
		Version: e.Version,
	}
	if e.UpdatedOn != nil {
		ts := e.UpdatedOn.UTC().Format(time.RFC3339)
		w.UpdatedOn = &ts
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Label = w.Label
	e.Outcome = w.Outcome
	e.Version = w.Version
	e.UpdatedOn = nil
	if w.UpdatedOn != nil {
		ts, err := time.Parse(time.RFC3339, *w.UpdatedOn)
		if err != nil {
			return err
		}
		e.UpdatedOn = &ts
	}
	return nil
}

// Echo is the acknowledgement pushed to a subscription group when a client
// sends a control message on its connection.
type Echo struct {
	Target     string `json:"target"`
	StatusCode int    `json:"statusCode"`
}
