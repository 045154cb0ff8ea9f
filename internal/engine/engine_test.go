package engine

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

	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/reconcile"
	"github.com/proxyforge/proxyforge/internal/store"
)

func incrementalOpts() reconcile.Options {
	return reconcile.DefaultOptions()
}

func fullOpts() reconcile.Options {
	opts := reconcile.DefaultOptions()
	opts.Force = true
	opts.Sweep = true
	return opts
}

func setupEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ProxyGroup{}, &model.ConfigRecord{}, &model.FileRecord{}))

	base := t.TempDir()
	return New(base, store.NewConfigStore(db), store.NewGroupStore(db), nil), base
}

func TestCreateOrUpdateConfigIsIdempotent(t *testing.T) {
	eng, _ := setupEngine(t)

	in := ConfigInput{Name: "route-a", Content: "X", RequiresFile: true}
	id1, err := eng.CreateOrUpdateConfig(in)
	require.NoError(t, err)

	// Same identity, same content: same record, no rival created.
	id2, err := eng.CreateOrUpdateConfig(in)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	recs, err := eng.ListConfigs(store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCreateOrUpdateConfigUpdatesInPlace(t *testing.T) {
	eng, base := setupEngine(t)
	ctx := context.Background()

	id1, err := eng.CreateOrUpdateConfig(ConfigInput{Name: "route-a", Content: "X", RequiresFile: true})
	require.NoError(t, err)
	_, err = eng.FullSync(ctx, nil)
	require.NoError(t, err)

	// Changed content for the same identity updates the existing record
	// rather than admitting a second claimant for the same path.
	id2, err := eng.CreateOrUpdateConfig(ConfigInput{Name: "route-a", Content: "Y", RequiresFile: true})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	rec, err := eng.GetConfig(id1)
	require.NoError(t, err)
	assert.Equal(t, "Y", rec.Content)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, model.SyncStatusOutdated, rec.SyncStatus)

	_, err = eng.FullSync(ctx, nil)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(*rec.ConfigPath)))
	require.NoError(t, err)
	assert.Equal(t, "Y", string(data))
}

func TestNoTwoActiveRecordsShareAPath(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	group, err := eng.CreateGroup("edge")
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err := eng.CreateOrUpdateConfig(ConfigInput{
			GroupID:      &group.ID,
			Name:         "route-a",
			Content:      content,
			RequiresFile: true,
		})
		require.NoError(t, err)
		_, err = eng.Reconcile(ctx, nil, fullOpts())
		require.NoError(t, err)
	}

	recs, err := eng.ListConfigs(store.ListFilter{GroupID: &group.ID, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "three", recs[0].Content)
}

func TestDeactivateThenReconcileRemovesFile(t *testing.T) {
	eng, base := setupEngine(t)
	ctx := context.Background()

	id, err := eng.CreateOrUpdateConfig(ConfigInput{Name: "route-a", Content: "X", RequiresFile: true})
	require.NoError(t, err)
	_, err = eng.FullSync(ctx, nil)
	require.NoError(t, err)

	rec, err := eng.GetConfig(id)
	require.NoError(t, err)
	abs := filepath.Join(base, filepath.FromSlash(*rec.ConfigPath))
	require.FileExists(t, abs)

	require.NoError(t, eng.Deactivate(id))
	summary, err := eng.Reconcile(ctx, nil, incrementalOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)
	assert.NoFileExists(t, abs)

	// Reactivation brings the file back on the next pass.
	require.NoError(t, eng.Reactivate(id))
	summary, err = eng.Reconcile(ctx, nil, incrementalOpts())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.FileExists(t, abs)
}

func TestFullSyncConvergesFromArbitraryState(t *testing.T) {
	eng, base := setupEngine(t)
	ctx := context.Background()

	id, err := eng.CreateOrUpdateConfig(ConfigInput{Name: "route-a", Content: "X", RequiresFile: true})
	require.NoError(t, err)
	_, err = eng.FullSync(ctx, nil)
	require.NoError(t, err)

	rec, err := eng.GetConfig(id)
	require.NoError(t, err)
	managed := filepath.Join(base, filepath.FromSlash(*rec.ConfigPath))

	require.NoError(t, os.WriteFile(managed, []byte("tampered"), 0o644))
	stray := filepath.Join(filepath.Dir(managed), "dynamic-nobody.yaml")
	require.NoError(t, os.WriteFile(stray, []byte("stray"), 0o644))

	summary, err := eng.FullSync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Len(t, summary.OrphansRemoved, 1)

	data, err := os.ReadFile(managed)
	require.NoError(t, err)
	assert.Equal(t, "X", string(data))
	assert.NoFileExists(t, stray)
}

func TestMergeDuplicatesCollapsesLegacyRecords(t *testing.T) {
	eng, _ := setupEngine(t)

	// Duplicate rows created behind the engine's back, as legacy data would be.
	path := "dynamic/standalone/dynamic-legacy.yaml"
	for i := 0; i < 3; i++ {
		rec := &model.ConfigRecord{
			Name:         "legacy",
			Content:      "same",
			RequiresFile: true,
		}
		_, err := eng.configs.Create(rec)
		require.NoError(t, err)
		require.NoError(t, eng.configs.SetPath(rec.ID, path))
	}

	merged, err := eng.MergeDuplicates(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	recs, err := eng.ListConfigs(store.ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSetGroupStatusDrivesFileLifecycle(t *testing.T) {
	eng, base := setupEngine(t)
	ctx := context.Background()

	group, err := eng.CreateGroup("edge")
	require.NoError(t, err)
	id, err := eng.CreateOrUpdateConfig(ConfigInput{
		GroupID:      &group.ID,
		Name:         "route-a",
		Content:      "X",
		RequiresFile: true,
	})
	require.NoError(t, err)
	_, err = eng.FullSync(ctx, nil)
	require.NoError(t, err)

	rec, err := eng.GetConfig(id)
	require.NoError(t, err)
	abs := filepath.Join(base, filepath.FromSlash(*rec.ConfigPath))
	require.FileExists(t, abs)

	require.NoError(t, eng.SetGroupStatus(group.ID, model.GroupStatusStopped))
	_, err = eng.Reconcile(ctx, nil, incrementalOpts())
	require.NoError(t, err)
	assert.NoFileExists(t, abs)

	require.NoError(t, eng.SetGroupStatus(group.ID, model.GroupStatusRunning))
	_, err = eng.Reconcile(ctx, nil, incrementalOpts())
	require.NoError(t, err)
	assert.FileExists(t, abs)
}

func TestCreateOrUpdateConfigRequiresName(t *testing.T) {
	eng, _ := setupEngine(t)
	_, err := eng.CreateOrUpdateConfig(ConfigInput{Content: "X"})
	assert.Error(t, err)
}

func TestSweepWithoutPass(t *testing.T) {
	eng, base := setupEngine(t)
	ctx := context.Background()

	dir := filepath.Join(base, "dynamic", "standalone")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dynamic-stray.yaml"), []byte("x"), 0o644))

	removed, err := eng.Sweep(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}
