// Package capability implements the Capability Registry & Naming component
// (spec §4.9): FQDN minting (org.project.namespace.action.hash), alias
// resolution in (org, project) scope, renames, and merges, all backed by
// bbolt.
//
// Adapted from internal/storage/bbolt.go's typed-bucket +
// MarshalBinary/UnmarshalBinary JSON-envelope pattern (there used for
// Upstream/ToolStats/ToolHash records); this module reuses the same
// bucket-per-entity idiom for Capability and Alias records instead.
package capability

import (
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/sandboxrt/internal/bridge"
	"github.com/smart-mcp-proxy/sandboxrt/internal/errs"
	"github.com/smart-mcp-proxy/sandboxrt/internal/hash"
	"github.com/smart-mcp-proxy/sandboxrt/internal/isolate"
)

const (
	capabilitiesBucket = "capabilities"
	aliasesBucket      = "capability_aliases"
)

// Error is the shared-taxonomy error a Registry operation reports: always
// SecurityError for input validation, RuntimeError for anything else (the
// registry never raises a more specific kind since capability resolution
// happens outside the per-execution error path).
type Error struct {
	Kind    errs.Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("capability registry: %s: %s", e.Kind, e.Message) }

func (e *Error) ExecKind() errs.Kind { return e.Kind }

// Registry is a bbolt-backed capability store implementing bridge.Registry.
type Registry struct {
	db         *bbolt.DB
	hashPrefix int
	logger     *zap.Logger
}

// Open opens (creating if necessary) the capability buckets inside an
// already-open bbolt.DB — the same database the host process uses for
// other sandboxrt state, following the teacher's one-database-many-buckets
// layout rather than a dedicated file per component.
func Open(db *bbolt.DB, hashPrefixLen int, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hashPrefixLen < 4 {
		hashPrefixLen = 4
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(capabilitiesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(aliasesBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing capability buckets: %w", err)
	}
	return &Registry{db: db, hashPrefix: hashPrefixLen, logger: logger}, nil
}

func aliasKey(org, project, name string) string {
	return strings.ToLower(org) + "|" + strings.ToLower(project) + "|" + strings.ToLower(name)
}

// Register mints a new capability's FQDN and persists it. namespace/action
// form the FQDN's two naming segments (org.project.namespace.action.hash);
// displayName is the human-facing "namespace:action" form aliased to it.
func (r *Registry) Register(org, project, namespace, action, displayName, code string, toolDefs []isolate.ToolDefinition) (Record, error) {
	if org == "" || project == "" || namespace == "" || action == "" {
		return Record{}, &Error{Kind: errs.SecurityError, Message: "org, project, namespace and action are all required"}
	}

	digest := hash.CodeDigest(code)

	// Starting length hashPrefix, expanding on collision (spec §4.9): a
	// shorter prefix colliding with a *different* code body must not
	// silently overwrite it, so widen the prefix one hex char at a time
	// until the resulting FQDN is free or belongs to this same digest.
	prefixLen := r.hashPrefix
	var fqdn string
	for {
		hashSuffix := hash.HashPrefix(digest, prefixLen)
		candidate := strings.ToLower(fmt.Sprintf("%s.%s.%s.%s.%s", org, project, namespace, action, hashSuffix))
		existing, ok := r.getRecord(candidate)
		if !ok || existing.CodeDigest == digest {
			fqdn = candidate
			break
		}
		if prefixLen >= len(digest) {
			return Record{}, &Error{Kind: errs.RuntimeError, Message: fmt.Sprintf("exhausted hash prefix expansion for %s.%s.%s.%s", org, project, namespace, action)}
		}
		prefixLen++
	}

	now := time.Now()
	record := Record{
		ID:              fqdn,
		FQDN:            fqdn,
		Org:             org,
		Project:         project,
		Namespace:       namespace,
		Action:          action,
		DisplayName:     displayName,
		Code:            code,
		CodeDigest:      digest,
		ToolDefinitions: toolDefs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(capabilitiesBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(record.ID), data); err != nil {
			return err
		}

		if displayName == "" {
			return nil
		}
		alias := AliasRecord{Name: displayName, Org: org, Project: project, TargetID: record.ID, UpdatedAt: now}
		aliasData, err := alias.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(aliasesBucket)).Put([]byte(aliasKey(org, project, displayName)), aliasData)
	})
	if err != nil {
		return Record{}, fmt.Errorf("registering capability: %w", err)
	}

	r.logger.Info("registered capability", zap.String("fqdn", fqdn), zap.String("display_name", displayName))
	return record, nil
}

// ResolveByID implements bridge.Registry.
func (r *Registry) ResolveByID(id string) (bridge.Capability, bool) {
	record, ok := r.getRecord(id)
	if !ok {
		return bridge.Capability{}, false
	}
	return toCapability(record), true
}

// GetByID returns the full stored Record for id, for callers (the CLI's
// "capabilities whois") that need more than bridge.Capability's narrow
// dispatch-time view — display name, org/project, timestamps.
func (r *Registry) GetByID(id string) (Record, bool) {
	return r.getRecord(id)
}

// GetByName resolves a display name in (org, project) scope to its full
// Record, the whois lookup's alias-aware counterpart to GetByID.
func (r *Registry) GetByName(org, project, name string) (Record, bool) {
	var alias AliasRecord
	found := false
	_ = r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(aliasesBucket)).Get([]byte(aliasKey(org, project, name)))
		if data == nil {
			return nil
		}
		found = alias.UnmarshalBinary(data) == nil
		return nil
	})
	if !found {
		return Record{}, false
	}
	return r.getRecord(alias.TargetID)
}

// ResolveByName implements bridge.Registry: resolves a display name in
// (org, project) scope via the alias bucket, then loads the target record.
func (r *Registry) ResolveByName(org, project, name string) (bridge.Capability, bool) {
	var alias AliasRecord
	found := false
	_ = r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(aliasesBucket)).Get([]byte(aliasKey(org, project, name)))
		if data == nil {
			return nil
		}
		found = alias.UnmarshalBinary(data) == nil
		return nil
	})
	if !found {
		return bridge.Capability{}, false
	}
	return r.ResolveByID(alias.TargetID)
}

func (r *Registry) getRecord(id string) (Record, bool) {
	var record Record
	found := false
	_ = r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(capabilitiesBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = record.UnmarshalBinary(data) == nil
		return nil
	})
	return record, found
}

func toCapability(r Record) bridge.Capability {
	return bridge.Capability{ID: r.ID, FQDN: r.FQDN, Code: r.Code, ToolDefinitions: r.ToolDefinitions}
}

// Rename repoints every alias currently targeting oldID at newID, flattening
// chains on write (DESIGN.md Open Question 2) so ResolveByName never walks
// more than one hop.
func (r *Registry) Rename(oldID, newID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(aliasesBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var alias AliasRecord
			if err := alias.UnmarshalBinary(v); err != nil {
				return err
			}
			if alias.TargetID != oldID {
				return nil
			}
			alias.TargetID = newID
			alias.UpdatedAt = time.Now()
			data, err := alias.MarshalBinary()
			if err != nil {
				return err
			}
			return bucket.Put(k, data)
		})
	})
}

// Merge folds sourceID's capability into targetID: every alias pointing at
// sourceID is repointed at targetID (flattened, per Rename) and the source
// record is deleted. Used when two independently learned capabilities turn
// out to be duplicates.
func (r *Registry) Merge(sourceID, targetID string) error {
	if _, ok := r.getRecord(targetID); !ok {
		return &Error{Kind: errs.SecurityError, Message: fmt.Sprintf("merge target %s does not exist", targetID)}
	}
	if err := r.Rename(sourceID, targetID); err != nil {
		return fmt.Errorf("merging capability %s into %s: %w", sourceID, targetID, err)
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(capabilitiesBucket)).Delete([]byte(sourceID))
	})
}

// List returns every registered capability record, for CLI/administrative
// listing. Order is bbolt's key order (capability ID), not insertion order.
func (r *Registry) List() ([]Record, error) {
	var records []Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(capabilitiesBucket)).ForEach(func(_, v []byte) error {
			var record Record
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing capabilities: %w", err)
	}
	return records, nil
}

// Count returns the number of registered capabilities, for metrics reporting.
func (r *Registry) Count() int {
	n := 0
	_ = r.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(capabilitiesBucket)).Stats().KeyN
		return nil
	})
	return n
}
