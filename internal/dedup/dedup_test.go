package dedup

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/proxyforge/proxyforge/internal/model"
	"github.com/proxyforge/proxyforge/internal/store"
)

func setupTestStore(t *testing.T) *store.ConfigStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ProxyGroup{}, &model.ConfigRecord{}, &model.FileRecord{}))
	return store.NewConfigStore(db)
}

func createWithPath(t *testing.T, s *store.ConfigStore, name, content, path string) *model.ConfigRecord {
	t.Helper()
	rec, err := s.Create(&model.ConfigRecord{
		Tier:           model.TierStandalone,
		Classification: model.ClassDynamic,
		Name:           name,
		Content:        content,
		RequiresFile:   true,
		IsActive:       true,
	})
	require.NoError(t, err)
	require.NoError(t, s.SetPath(rec.ID, path))
	got, err := s.GetByID(rec.ID)
	require.NoError(t, err)
	return got
}

func TestAdmitNoCollision(t *testing.T) {
	s := setupTestStore(t)
	d := New(s, nil)

	decision, err := d.AdmitOrReuse(nil, "dynamic/standalone/dynamic-x.yaml", "content")
	require.NoError(t, err)
	assert.True(t, decision.Create)
	assert.Equal(t, ReasonNoCollision, decision.Reason)
}

func TestAdmitExactDuplicateReusesRecord(t *testing.T) {
	s := setupTestStore(t)
	d := New(s, nil)

	path := "dynamic/standalone/dynamic-x.yaml"
	existing := createWithPath(t, s, "web", "same content", path)

	decision, err := d.AdmitOrReuse(nil, path, "same content")
	require.NoError(t, err)
	assert.False(t, decision.Create)
	assert.Equal(t, existing.ID, decision.ExistingID)
	assert.Equal(t, ReasonExactDuplicate, decision.Reason)
}

func TestAdmitPathConflictOverwritesInPlace(t *testing.T) {
	s := setupTestStore(t)
	d := New(s, nil)

	path := "dynamic/standalone/dynamic-x.yaml"
	existing := createWithPath(t, s, "web", "old content", path)

	decision, err := d.AdmitOrReuse(nil, path, "new content")
	require.NoError(t, err)
	assert.False(t, decision.Create)
	assert.Equal(t, existing.ID, decision.ExistingID)
	assert.Equal(t, ReasonPathConflict, decision.Reason)
}

func TestAdmitIgnoresInactiveClaimants(t *testing.T) {
	s := setupTestStore(t)
	d := New(s, nil)

	path := "dynamic/standalone/dynamic-x.yaml"
	existing := createWithPath(t, s, "web", "content", path)
	require.NoError(t, s.Deactivate(existing.ID))

	decision, err := d.AdmitOrReuse(nil, path, "content")
	require.NoError(t, err)
	assert.True(t, decision.Create)
}

func TestMergeDuplicatesKeepsNewest(t *testing.T) {
	s := setupTestStore(t)
	d := New(s, nil)

	path := "dynamic/standalone/dynamic-x.yaml"
	base := time.Now().Add(-time.Hour)
	var newest *model.ConfigRecord
	for i := 0; i < 3; i++ {
		rec, err := s.Create(&model.ConfigRecord{
			Tier:           model.TierStandalone,
			Classification: model.ClassDynamic,
			Name:           "dup",
			Content:        "same",
			RequiresFile:   true,
			IsActive:       true,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.NoError(t, s.SetPath(rec.ID, path))
		newest = rec
	}

	removed, err := d.MergeDuplicates(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	recs, err := s.ListAll(nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, newest.ID, recs[0].ID)
}

func TestMergeDuplicatesLeavesDistinctContentAlone(t *testing.T) {
	s := setupTestStore(t)
	d := New(s, nil)

	path := "dynamic/standalone/dynamic-x.yaml"
	createWithPath(t, s, "a", "one", path)
	createWithPath(t, s, "b", "two", path)

	removed, err := d.MergeDuplicates(nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
