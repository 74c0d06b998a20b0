package cases

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StageTiming is one executed stage and its elapsed wall-clock seconds.
type StageTiming struct {
	Stage   string
	Seconds float64
}

// StageTimings is the ordered stage -> elapsed-seconds map persisted on an
// artifact. Insertion order is execution order and must survive the round trip
// through the store and the status feed, so it marshals as a JSON object with
// keys in that order and is stored in a json (not jsonb) column, which would
// re-sort keys.
type StageTimings []StageTiming

// Set records seconds for a stage, updating an earlier entry in place so a
// re-run stage keeps its original position.
func (t *StageTimings) Set(stage string, seconds float64) {
	for i := range *t {
		if (*t)[i].Stage == stage {
			(*t)[i].Seconds = seconds
			return
		}
	}
	*t = append(*t, StageTiming{Stage: stage, Seconds: seconds})
}

// Get returns the recorded seconds for a stage.
func (t StageTimings) Get(stage string) (float64, bool) {
	for _, entry := range t {
		if entry.Stage == stage {
			return entry.Seconds, true
		}
	}
	return 0, false
}

// Stages returns the stage names in execution order.
func (t StageTimings) Stages() []string {
	names := make([]string, len(t))
	for i, entry := range t {
		names[i] = entry.Stage
	}
	return names
}

// MarshalJSON renders a JSON object preserving insertion order.
func (t StageTimings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Stage)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Seconds)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping document key order.
func (t *StageTimings) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("stage timings: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stage timings: expected object, got %v", tok)
	}

	out := StageTimings{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("stage timings: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("stage timings: expected string key, got %v", keyTok)
		}

		valueTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("stage timings: %w", err)
		}
		num, ok := valueTok.(json.Number)
		if !ok {
			return fmt.Errorf("stage timings: expected number for %q, got %v", key, valueTok)
		}
		seconds, err := num.Float64()
		if err != nil {
			return fmt.Errorf("stage timings: %w", err)
		}
		out.Set(key, seconds)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("stage timings: %w", err)
	}

	*t = out
	return nil
}
