// Package quest defines the core types shared across the fetch, dedup, notify
// and ingest subsystems.
package quest

import (
	"fmt"
	"strings"
	"time"
)

// RewardCategory classifies a quest by the kind of reward it grants.
type RewardCategory string

// Reward categories recognised by filters and notification formatting.
const (
	RewardOrbs  RewardCategory = "orbs"
	RewardDecor RewardCategory = "decor"
	RewardOther RewardCategory = "other"
)

// ParseRewardCategory normalises a category string; unknown values map to RewardOther.
func ParseRewardCategory(raw string) RewardCategory {
	switch RewardCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case RewardOrbs:
		return RewardOrbs
	case RewardDecor:
		return RewardDecor
	default:
		return RewardOther
	}
}

// Filter selects which reward categories reach the seen-set check.
type Filter string

// Filter values accepted in configuration.
const (
	FilterAll   Filter = "all"
	FilterOrbs  Filter = "orbs"
	FilterDecor Filter = "decor"
)

// ParseFilter validates a filter string.
func ParseFilter(raw string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(raw))); f {
	case FilterAll, FilterOrbs, FilterDecor:
		return f, nil
	case "":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("unknown reward filter %q", raw)
	}
}

// Allows reports whether a quest with the given category passes the filter.
func (f Filter) Allows(category RewardCategory) bool {
	switch f {
	case FilterOrbs:
		return category == RewardOrbs
	case FilterDecor:
		return category == RewardDecor
	default:
		return true
	}
}

// Quest is one time-boxed quest record as observed in a region. Records are
// treated as immutable once fetched.
type Quest struct {
	ID         string            `json:"id"`
	Region     string            `json:"region,omitempty"`
	Name       string            `json:"name"`
	Game       string            `json:"game,omitempty"`
	Publisher  string            `json:"publisher,omitempty"`
	Category   RewardCategory    `json:"reward_category"`
	RewardName string            `json:"reward_name,omitempty"`
	OrbAmount  int               `json:"orb_amount,omitempty"`
	StartsAt   time.Time         `json:"starts_at,omitzero"`
	ExpiresAt  time.Time         `json:"expires_at,omitzero"`
	HeroURL    string            `json:"hero_url,omitempty"`
	Tasks      []Task            `json:"tasks,omitempty"`
	Features   []string          `json:"features,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Task is one way of completing a quest, e.g. playing on a platform for a
// number of seconds.
type Task struct {
	Type          string `json:"type"`
	TargetSeconds int    `json:"target_seconds"`
}

// TargetMinutes rounds the task target up to whole minutes.
func (t Task) TargetMinutes() int {
	return (t.TargetSeconds + 59) / 60
}

// Key returns the composite dedup key for the quest in region.
func (q Quest) Key(region string) Key {
	return Key{Region: region, ID: q.ID}
}

// Key is the seen-set dedup unit: the same quest id is tracked per region.
type Key struct {
	Region string `json:"region"`
	ID     string `json:"id"`
}

// String renders the key as "region:id".
func (k Key) String() string {
	return k.Region + ":" + k.ID
}

// ParseKey splits a "region:id" string. Region codes never contain ':'.
func ParseKey(raw string) (Key, error) {
	region, id, ok := strings.Cut(raw, ":")
	if !ok || region == "" || id == "" {
		return Key{}, fmt.Errorf("invalid seen key %q", raw)
	}
	return Key{Region: region, ID: id}, nil
}

// Entry is one persisted seen-set row.
type Entry struct {
	Region    string    `json:"region"`
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
}

// Key returns the composite key of the entry.
func (e Entry) Key() Key {
	return Key{Region: e.Region, ID: e.ID}
}

// SinkKind identifies the delivery mechanism of a sink.
type SinkKind string

// Supported sink kinds.
const (
	SinkWebhook SinkKind = "webhook"
	SinkPubSub  SinkKind = "pubsub"
)

// Sink describes one notification target. Sinks are fixed for the process lifetime.
type Sink struct {
	Name      string   `mapstructure:"name" json:"name"`
	Kind      SinkKind `mapstructure:"kind" json:"kind"`
	URL       string   `mapstructure:"url" json:"url"`
	ProjectID string   `mapstructure:"project_id" json:"project_id,omitempty"`
	Topic     string   `mapstructure:"topic" json:"topic,omitempty"`
}

// DisplayName returns the configured name or a fallback derived from the kind.
func (s Sink) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Kind == "" {
		return string(SinkWebhook)
	}
	return string(s.Kind)
}

// IngestBatch is the wire entity pushed from agents to the collector.
type IngestBatch struct {
	Region string  `json:"region"`
	Quests []Quest `json:"quests"`
	Source string  `json:"source"`
}

// IngestResult is the collector's response to one batch.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Deduped  int `json:"deduped"`
}
