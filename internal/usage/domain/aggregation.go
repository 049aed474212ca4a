package domain

import (
	"math"
	"sort"
	"strings"

	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
)

const (
	// BucketSeconds is the width of one usage bucket.
	BucketSeconds = 300

	DefaultWriteWeight = 15
	DefaultReadWeight  = 10

	Unknown = "unknown"
)

// Weights are flat active-seconds credited per heartbeat. Dashboards are
// calibrated against these values, so they are not wall-clock measurements.
type Weights struct {
	Write int64
	Read  int64
}

func DefaultWeights() Weights {
	return Weights{Write: DefaultWriteWeight, Read: DefaultReadWeight}
}

func (w Weights) withDefaults() Weights {
	if w.Write <= 0 {
		w.Write = DefaultWriteWeight
	}
	if w.Read <= 0 {
		w.Read = DefaultReadWeight
	}
	return w
}

// TimeSlot floors a unix timestamp to its bucket start.
func TimeSlot(t float64) int64 {
	return int64(math.Floor(t/BucketSeconds)) * BucketSeconds
}

// Key identifies one usage bucket of a user.
type Key struct {
	TimeSlot int64  `json:"time_slot"`
	Project  string `json:"project"`
	Language string `json:"language"`
	Category string `json:"category"`
}

// Delta is the contribution of one batch to one bucket.
type Delta struct {
	Key
	Seconds        int64 `json:"seconds"`
	HeartbeatCount int64 `json:"heartbeat_count"`
}

// KeyOf normalizes the dimensions of a heartbeat.
func KeyOf(hb heartbeatdomain.Heartbeat) Key {
	return Key{
		TimeSlot: TimeSlot(hb.Time),
		Project:  dimension(hb.Project),
		Language: dimension(hb.Language),
		Category: dimension(hb.Category),
	}
}

// Group folds a batch into per-bucket deltas, ordered by slot then dimensions.
func Group(heartbeats []heartbeatdomain.Heartbeat, weights Weights) []Delta {
	weights = weights.withDefaults()
	index := make(map[Key]int, len(heartbeats))
	deltas := make([]Delta, 0, len(heartbeats))

	for _, hb := range heartbeats {
		key := KeyOf(hb)
		weight := weights.Read
		if hb.IsWrite {
			weight = weights.Write
		}
		i, ok := index[key]
		if !ok {
			i = len(deltas)
			index[key] = i
			deltas = append(deltas, Delta{Key: key})
		}
		deltas[i].Seconds += weight
		deltas[i].HeartbeatCount++
	}

	sort.Slice(deltas, func(i, j int) bool {
		a, b := deltas[i].Key, deltas[j].Key
		if a.TimeSlot != b.TimeSlot {
			return a.TimeSlot < b.TimeSlot
		}
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		return a.Category < b.Category
	})
	return deltas
}

func dimension(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return Unknown
	}
	return value
}
