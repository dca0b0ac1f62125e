// Package resultcache implements the subprocess-path execution-result cache
// (config.CacheConfig): a bbolt-backed store keyed by a digest of (code,
// context) so identical resubmissions skip spawning a new interpreter
// process. Adapted from the teacher's internal/storage cache manager, which
// cached paginated MCP tool responses by (toolName, args, timestamp) for a
// read_cache tool — that pagination/record-path concern has no analogue
// here, so this package keeps only the bbolt bucket + MarshalBinary/TTL
// idiom and re-keys entries on the sandbox's own content hash instead.
package resultcache

import (
	"encoding/json"
	"time"
)

// Entry is one cached subprocess-path execution outcome.
type Entry struct {
	Key          string      `json:"key"`
	Success      bool        `json:"success"`
	Value        interface{} `json:"value,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	AccessCount  int         `json:"access_count"`
	LastAccessed time.Time   `json:"last_accessed"`
}

// MarshalBinary implements encoding.BinaryMarshaler for bbolt storage.
func (e *Entry) MarshalBinary() ([]byte, error) { return json.Marshal(e) }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Entry) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, e) }

// IsExpired reports whether e's TTL has elapsed.
func (e *Entry) IsExpired() bool { return time.Now().After(e.ExpiresAt) }

// Stats tracks cache hit/miss/eviction counters, persisted alongside entries.
type Stats struct {
	TotalEntries int `json:"total_entries"`
	HitCount     int `json:"hit_count"`
	MissCount    int `json:"miss_count"`
	EvictedCount int `json:"evicted_count"`
}

func (s *Stats) MarshalBinary() ([]byte, error) { return json.Marshal(s) }

func (s *Stats) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, s) }
