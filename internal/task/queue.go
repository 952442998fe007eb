package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	logx "harvest/pkg/logx"
)

// Known top-level keys of a task entry. Everything else is a scraper parameter.
var reservedTaskKeys = map[string]bool{
	"id":                     true,
	"priority":               true,
	"scraper":                true,
	"source":                 true,
	"reason":                 true,
	"detected_at":            true,
	"gap_size":               true,
	"success_rate":           true,
	"estimated_time_minutes": true,
}

type queueFile struct {
	TotalTasks int              `json:"total_tasks"`
	ByPriority map[string]int   `json:"by_priority"`
	Tasks      []map[string]any `json:"tasks"`
}

// LoadQueue parses the externally produced task queue JSON.
//
// A missing or structurally broken file is a fatal load error. Individual
// malformed entries are quarantined (logged with index and reason) so one bad
// entry cannot abort the whole batch later.
func LoadQueue(path string, log logx.Logger) (*Queue, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("task queue: %w", err)
	}

	var qf queueFile
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&qf); err != nil {
		return nil, fmt.Errorf("task queue %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("task queue %s: trailing data", path)
	}

	q := &Queue{
		TotalTasks: qf.TotalTasks,
		ByPriority: make(map[Tier]int, len(Tiers)),
		Tasks:      make([]*Task, 0, len(qf.Tasks)),
	}
	for name, n := range qf.ByPriority {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("task queue %s: by_priority: %w", path, err)
		}
		q.ByPriority[tier] = n
	}

	seen := make(map[string]bool, len(qf.Tasks))
	for i, raw := range qf.Tasks {
		t, err := decodeTask(raw)
		if err != nil {
			q.Quarantined++
			log.Warn("task entry quarantined", logx.Int("index", i), logx.Err(err))
			continue
		}
		if seen[t.ID] {
			q.Quarantined++
			log.Warn("task entry quarantined", logx.Int("index", i), logx.String("id", t.ID), logx.Err(fmt.Errorf("duplicate task id")))
			continue
		}
		seen[t.ID] = true
		q.Tasks = append(q.Tasks, t)
	}

	if q.TotalTasks != 0 && q.TotalTasks != len(q.Tasks)+q.Quarantined {
		log.Warn("task queue header count mismatch",
			logx.Int("total_tasks", q.TotalTasks),
			logx.Int("parsed", len(q.Tasks)),
			logx.Int("quarantined", q.Quarantined),
		)
	}

	return q, nil
}

func decodeTask(raw map[string]any) (*Task, error) {
	id, err := requiredString(raw, "id")
	if err != nil {
		return nil, err
	}
	prioStr, err := requiredString(raw, "priority")
	if err != nil {
		return nil, err
	}
	prio, err := ParseTier(prioStr)
	if err != nil {
		return nil, err
	}
	scraper, err := requiredString(raw, "scraper")
	if err != nil {
		return nil, err
	}
	source, err := requiredString(raw, "source")
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:       id,
		Priority: prio,
		Scraper:  scraper,
		Source:   source,
	}
	if s, ok := raw["reason"].(string); ok {
		t.Reason = s
	}

	// Malformed detected_at is tolerated: the age bonus is simply skipped.
	if s, ok := raw["detected_at"].(string); ok && s != "" {
		if ts, perr := parseTimestamp(s); perr == nil {
			t.DetectedAt = ts
		}
	}

	if v, ok := raw["gap_size"]; ok && v != nil {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("gap_size: expected number, got %T", v)
		}
		n := int(f)
		t.GapSize = &n
	}
	if v, ok := raw["success_rate"]; ok && v != nil {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("success_rate: expected number, got %T", v)
		}
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("success_rate: %v out of range [0,1]", f)
		}
		t.SuccessRate = &f
	}
	if v, ok := raw["estimated_time_minutes"]; ok && v != nil {
		f, ok := v.(float64)
		if !ok || f < 0 {
			return nil, fmt.Errorf("estimated_time_minutes: invalid value %v", v)
		}
		t.EstimatedMinutes = f
	}

	for k, v := range raw {
		if reservedTaskKeys[k] {
			continue
		}
		if t.Params == nil {
			t.Params = make(map[string]any)
		}
		t.Params[k] = v
	}

	return t, nil
}

func requiredString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s: missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s: expected non-empty string, got %v", key, v)
	}
	return s, nil
}

// parseTimestamp accepts RFC3339 and the upstream detector's second format
// (no timezone, interpreted as local time).
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, time.Local)
}
