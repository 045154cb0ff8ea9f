package confpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/proxyforge/proxyforge/internal/model"
)

func TestChecksumIsDeterministic(t *testing.T) {
	a := Checksum([]byte("http:\n  routers: {}\n"))
	b := Checksum([]byte("http:\n  routers: {}\n"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestChecksumDiffersOnContent(t *testing.T) {
	assert.NotEqual(t, ChecksumString("a"), ChecksumString("b"))
}

func TestChecksumMatchesStringAndBytes(t *testing.T) {
	content := "routers:\n  web:\n    rule: Host(`example.test`)\n"
	assert.Equal(t, Checksum([]byte(content)), ChecksumString(content))
}

func TestResolvePathScoped(t *testing.T) {
	got := ResolvePath(model.TierScoped, "edge-1", model.ClassDynamic, "abc123")
	assert.Equal(t, "dynamic/groups/edge-1/dynamic-abc123.yaml", got)
}

func TestResolvePathStandalone(t *testing.T) {
	got := ResolvePath(model.TierStandalone, "ignored", model.ClassStatic, "abc123")
	assert.Equal(t, "dynamic/standalone/static-abc123.yaml", got)
}

func TestResolvePathScopedWithoutGroupFallsBack(t *testing.T) {
	// A scoped record whose group name cannot be resolved uses the
	// standalone layout instead of producing a path with an empty segment.
	got := ResolvePath(model.TierScoped, "", model.ClassDynamic, "abc123")
	assert.Equal(t, "dynamic/standalone/dynamic-abc123.yaml", got)
}

func TestResolvePathUsesIDNotName(t *testing.T) {
	rec := &model.ConfigRecord{
		ID:             "id-1",
		Tier:           model.TierScoped,
		Classification: model.ClassDynamic,
		Name:           "some mutable name",
	}
	before := ResolveRecordPath(rec, "g1")
	rec.Name = "renamed"
	after := ResolveRecordPath(rec, "g1")
	assert.Equal(t, before, after)
}

func TestValidGroupName(t *testing.T) {
	valid := []string{"edge-1", "prod_us-east.2", "g"}
	for _, name := range valid {
		assert.True(t, ValidGroupName(name), name)
	}
	invalid := []string{"", ".", "..", "../escape", "a/b", `a\b`, "../../etc"}
	for _, name := range invalid {
		assert.False(t, ValidGroupName(name), name)
	}
}

func TestResolvePathNeverEscapesBase(t *testing.T) {
	// Hostile group names must not produce a path that climbs out of the
	// directory the engine owns; they fall back to the standalone layout.
	for _, name := range []string{"../../escape", "..", "a/b", `a\b`} {
		got := ResolvePath(model.TierScoped, name, model.ClassDynamic, "abc123")
		assert.Equal(t, "dynamic/standalone/dynamic-abc123.yaml", got, name)
	}
}
