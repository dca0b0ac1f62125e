package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/smart-mcp-proxy/sandboxrt/internal/hash"
)

func setupTestRegistry(t *testing.T) (*Registry, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "capability_test_*")
	require.NoError(t, err)

	db, err := bbolt.Open(filepath.Join(tmpDir, "capabilities.db"), 0644, nil)
	require.NoError(t, err)

	registry, err := Open(db, 4, nil)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}
	return registry, cleanup
}

func TestRegisterMintsFQDN(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	record, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "input_value.length", nil)
	require.NoError(t, err)

	assert.Equal(t, "acme.proj1.summarize.text", record.FQDN[:len("acme.proj1.summarize.text")])
	assert.NotEmpty(t, record.CodeDigest)
}

func TestResolveByIDRoundTrips(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	record, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)

	cap, ok := r.ResolveByID(record.ID)
	require.True(t, ok)
	assert.Equal(t, record.FQDN, cap.FQDN)
	assert.Equal(t, record.Code, cap.Code)
}

func TestResolveByNameUsesAliasScope(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	record, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)

	cap, ok := r.ResolveByName("acme", "proj1", "summarize:text")
	require.True(t, ok)
	assert.Equal(t, record.ID, cap.ID)

	_, ok = r.ResolveByName("acme", "other-project", "summarize:text")
	assert.False(t, ok, "alias must not resolve outside its (org, project) scope")
}

func TestRenameFlattensAliasChain(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	record, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)

	require.NoError(t, r.Rename(record.ID, "acme.proj1.summarize.text.ffff"))

	_, ok := r.ResolveByName("acme", "proj1", "summarize:text")
	assert.False(t, ok, "target was renamed away without a new record existing")
}

func TestMergeRepointsAliasesAndDeletesSource(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	source, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)
	target, err := r.Register("acme", "proj1", "summarize", "text2", "summarize:text2", "1+1", nil)
	require.NoError(t, err)

	require.NoError(t, r.Merge(source.ID, target.ID))

	cap, ok := r.ResolveByName("acme", "proj1", "summarize:text")
	require.True(t, ok)
	assert.Equal(t, target.ID, cap.ID)

	_, ok = r.getRecord(source.ID)
	assert.False(t, ok, "merged-away source record must be deleted")
}

func TestRegisterExpandsHashPrefixOnCollision(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	code := "a different code body entirely"
	digest := hash.CodeDigest(code)
	shortSuffix := hash.HashPrefix(digest, r.hashPrefix)
	candidate := strings.ToLower(fmt.Sprintf("acme.proj1.summarize.text.%s", shortSuffix))

	// Plant a record at the exact FQDN this code would mint at the
	// registry's starting prefix length, but under a different digest — the
	// collision Register must detect and expand past rather than overwrite.
	planted := Record{
		ID:         candidate,
		FQDN:       candidate,
		Org:        "acme",
		Project:    "proj1",
		Namespace:  "summarize",
		Action:     "text",
		Code:       "an entirely unrelated code body",
		CodeDigest: hash.CodeDigest("an entirely unrelated code body"),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, r.db.Update(func(tx *bbolt.Tx) error {
		data, err := planted.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(capabilitiesBucket)).Put([]byte(planted.ID), data)
	}))

	record, err := r.Register("acme", "proj1", "summarize", "text", "", code, nil)
	require.NoError(t, err)

	assert.NotEqual(t, candidate, record.ID, "collision with a different code body must not overwrite the planted record")
	assert.True(t, strings.HasPrefix(record.FQDN, "acme.proj1.summarize.text."), "expanded FQDN keeps the same naming segments")

	plantedStillThere, ok := r.getRecord(candidate)
	require.True(t, ok, "planted record must survive the collision untouched")
	assert.Equal(t, planted.CodeDigest, plantedStillThere.CodeDigest)

	ownRecord, ok := r.getRecord(record.ID)
	require.True(t, ok)
	assert.Equal(t, digest, ownRecord.CodeDigest)
}

func TestRegisterReRegistersSameCodeIdempotently(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	first, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)

	second, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-registering the same code at the same coordinate must not expand the prefix")
}

func TestMergeRejectsMissingTarget(t *testing.T) {
	r, cleanup := setupTestRegistry(t)
	defer cleanup()

	source, err := r.Register("acme", "proj1", "summarize", "text", "summarize:text", "1+1", nil)
	require.NoError(t, err)

	err = r.Merge(source.ID, "does-not-exist")
	assert.Error(t, err)
}
