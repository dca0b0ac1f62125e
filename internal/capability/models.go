package capability

import (
	"encoding/json"
	"time"

	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
)

// Record is the bbolt-persisted form of a registered capability (spec §3's
// Capability entity). Stored JSON-encoded, one record per stable ID, in
// CapabilitiesBucket.
type Record struct {
	ID              string                  `json:"id" yaml:"id"`
	FQDN            string                  `json:"fqdn" yaml:"fqdn"`
	Org             string                  `json:"org" yaml:"org"`
	Project         string                  `json:"project" yaml:"project"`
	Namespace       string                  `json:"namespace" yaml:"namespace"`
	Action          string                  `json:"action" yaml:"action"`
	DisplayName     string                  `json:"display_name" yaml:"display_name"`
	Code            string                  `json:"code" yaml:"code"`
	CodeDigest      string                  `json:"code_digest" yaml:"code_digest"`
	ToolDefinitions []isolate.ToolDefinition `json:"tool_definitions,omitempty" yaml:"tool_definitions,omitempty"`
	CreatedAt       time.Time               `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at" yaml:"updated_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler, the teacher's
// storage.UpstreamRecord pattern for bbolt values.
func (r *Record) MarshalBinary() ([]byte, error) { return json.Marshal(r) }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, r) }

// AliasRecord maps a display name, scoped to (org, project), to the stable
// ID it currently resolves to (spec §3's Alias entity). Alias chains are
// flattened on insert (DESIGN.md Open Question 2): AliasRecord.TargetID
// always names a Record directly, never another alias.
type AliasRecord struct {
	Name      string    `json:"name"`
	Org       string    `json:"org"`
	Project   string    `json:"project"`
	TargetID  string    `json:"target_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *AliasRecord) MarshalBinary() ([]byte, error) { return json.Marshal(a) }

func (a *AliasRecord) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, a) }
