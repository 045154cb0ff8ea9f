package sweep

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/store"
)

type fixture struct {
	sweeper *Sweeper
	configs *store.ConfigStore
	groups  *store.GroupStore
	db      *gorm.DB
	base    string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ProxyGroup{}, &model.ConfigRecord{}, &model.FileRecord{}))

	base := t.TempDir()
	configs := store.NewConfigStore(db)
	groups := store.NewGroupStore(db)
	return &fixture{
		sweeper: New(base, configs, groups, nil),
		configs: configs,
		groups:  groups,
		db:      db,
		base:    base,
	}
}

func (f *fixture) plantFile(t *testing.T, relPath string) {
	t.Helper()
	abs := filepath.Join(f.base, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("stray"), 0o644))
}

func (f *fixture) exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(f.base, filepath.FromSlash(relPath)))
	return err == nil
}

func (f *fixture) createActiveRecord(t *testing.T, groupID *string, name string) *model.ConfigRecord {
	t.Helper()
	rec, err := f.configs.Create(&model.ConfigRecord{
		GroupID:        groupID,
		Tier:           model.TierScoped,
		Classification: model.ClassDynamic,
		Name:           name,
		Content:        "x",
		RequiresFile:   true,
		IsActive:       true,
	})
	require.NoError(t, err)
	return rec
}

func TestSweepRemovesOrphans(t *testing.T) {
	f := setup(t)

	rec := f.createActiveRecord(t, nil, "keep")
	expected := confpath.ResolveRecordPath(rec, "")
	f.plantFile(t, expected)
	f.plantFile(t, "dynamic/standalone/dynamic-orphan.yaml")
	f.plantFile(t, "dynamic/groups/gone/dynamic-stale.yml")

	removed, err := f.sweeper.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"dynamic/standalone/dynamic-orphan.yaml",
		"dynamic/groups/gone/dynamic-stale.yml",
	}, removed)

	assert.True(t, f.exists(expected))
	assert.False(t, f.exists("dynamic/standalone/dynamic-orphan.yaml"))
}

func TestSweepIgnoresNonConfigFiles(t *testing.T) {
	f := setup(t)

	f.plantFile(t, "dynamic/standalone/notes.txt")
	f.plantFile(t, "dynamic/standalone/dynamic-a.yaml.bak.20260101T000000")

	removed, err := f.sweeper.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.True(t, f.exists("dynamic/standalone/notes.txt"))
}

func TestSweepRecomputesPathsFromIdentity(t *testing.T) {
	f := setup(t)

	group, err := f.groups.Create("edge-1")
	require.NoError(t, err)
	rec := f.createActiveRecord(t, &group.ID, "web")
	// Stored path is stale; the expected set must come from identity.
	require.NoError(t, f.configs.SetPath(rec.ID, "dynamic/standalone/wrong.yaml"))

	real := confpath.ResolveRecordPath(rec, "edge-1")
	f.plantFile(t, real)

	removed, err := f.sweeper.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.True(t, f.exists(real))
}

func TestSweepScopedToGroupSubtree(t *testing.T) {
	f := setup(t)

	group, err := f.groups.Create("edge-1")
	require.NoError(t, err)

	f.plantFile(t, "dynamic/groups/edge-1/dynamic-stale.yaml")
	f.plantFile(t, "dynamic/standalone/dynamic-other.yaml")

	removed, err := f.sweeper.Sweep(context.Background(), &group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"dynamic/groups/edge-1/dynamic-stale.yaml"}, removed)

	// Files outside the scope subtree are untouched by a scoped sweep.
	assert.True(t, f.exists("dynamic/standalone/dynamic-other.yaml"))
}

func TestSweepStoppedScopeClearsSubtree(t *testing.T) {
	f := setup(t)

	group, err := f.groups.Create("edge-1")
	require.NoError(t, err)
	rec := f.createActiveRecord(t, &group.ID, "web")

	// Even files backed by active records go: the scope is stopped.
	expected := confpath.ResolveRecordPath(rec, "edge-1")
	f.plantFile(t, expected)
	f.plantFile(t, "dynamic/groups/edge-1/dynamic-extra.yaml")

	require.NoError(t, f.groups.SetStatus(group.ID, model.GroupStatusStopped))

	removed, err := f.sweeper.Sweep(context.Background(), &group.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.False(t, f.exists(expected))
}

func TestGlobalSweepTreatsStoppedGroupFilesAsOrphans(t *testing.T) {
	f := setup(t)

	group, err := f.groups.Create("edge-1")
	require.NoError(t, err)
	rec := f.createActiveRecord(t, &group.ID, "web")
	expected := confpath.ResolveRecordPath(rec, "edge-1")
	f.plantFile(t, expected)

	require.NoError(t, f.groups.SetStatus(group.ID, model.GroupStatusStopped))

	removed, err := f.sweeper.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{expected}, removed)
}

func TestSweepMissingScopeErrors(t *testing.T) {
	f := setup(t)
	missing := "nope"
	_, err := f.sweeper.Sweep(context.Background(), &missing)
	assert.Error(t, err)
}

func TestSweepEmptyTreeIsNoop(t *testing.T) {
	f := setup(t)
	removed, err := f.sweeper.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweepRefusesUnsafeGroupName(t *testing.T) {
	f := setup(t)

	// Legacy row bypassing the store's name validation. A scoped sweep whose
	// walk root would land outside the base path must refuse to run.
	group := &model.ProxyGroup{ID: "legacy-1", Name: "../../escape", Status: model.GroupStatusStopped}
	require.NoError(t, f.db.Create(group).Error)

	outside := filepath.Join(filepath.Dir(f.base), "escape")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	victim := filepath.Join(outside, "dynamic-victim.yaml")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o644))

	_, err := f.sweeper.Sweep(context.Background(), &group.ID)
	require.Error(t, err)

	_, statErr := os.Stat(victim)
	assert.NoError(t, statErr, "files outside the base path must not be touched")
}
