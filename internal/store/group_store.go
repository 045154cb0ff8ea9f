package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/model"
)

// ErrGroupNotFound is returned when an operation references an unknown group.
var ErrGroupNotFound = errors.New("proxy group not found")

// ErrInvalidGroupName is returned for names that cannot be embedded as a
// single path segment under the base path.
var ErrInvalidGroupName = errors.New("invalid proxy group name")

// GroupStore provides database operations for proxy groups.
type GroupStore struct {
	db *gorm.DB
}

// NewGroupStore creates a new GroupStore.
func NewGroupStore(db *gorm.DB) *GroupStore {
	return &GroupStore{db: db}
}

// Create inserts a new running group. Names become filesystem directories,
// so separators and dot segments are rejected before they reach a path join.
func (s *GroupStore) Create(name string) (*model.ProxyGroup, error) {
	if !confpath.ValidGroupName(name) {
		return nil, ErrInvalidGroupName
	}
	group := &model.ProxyGroup{
		ID:     uuid.New().String(),
		Name:   name,
		Status: model.GroupStatusRunning,
	}
	if err := s.db.Create(group).Error; err != nil {
		return nil, fmt.Errorf("create proxy group: %w", err)
	}
	return group, nil
}

// GetByID retrieves a group by id.
func (s *GroupStore) GetByID(id string) (*model.ProxyGroup, error) {
	var group model.ProxyGroup
	if err := s.db.First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("get proxy group: %w", err)
	}
	return &group, nil
}

// GetByName retrieves a group by its unique name.
func (s *GroupStore) GetByName(name string) (*model.ProxyGroup, error) {
	var group model.ProxyGroup
	if err := s.db.First(&group, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("get proxy group by name: %w", err)
	}
	return &group, nil
}

// List returns all groups, newest first.
func (s *GroupStore) List() ([]model.ProxyGroup, error) {
	var groups []model.ProxyGroup
	if err := s.db.Order("created_at DESC").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list proxy groups: %w", err)
	}
	return groups, nil
}

// ListByStatus returns the groups currently in the given state.
func (s *GroupStore) ListByStatus(status model.GroupStatus) ([]model.ProxyGroup, error) {
	var groups []model.ProxyGroup
	if err := s.db.Where("status = ?", status).Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list proxy groups by status: %w", err)
	}
	return groups, nil
}

// SetStatus transitions a group between running and stopped.
func (s *GroupStore) SetStatus(id string, status model.GroupStatus) error {
	result := s.db.Model(&model.ProxyGroup{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("set group status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// OperationalState returns a group's status. A missing group is reported as
// running so that records whose group row was deleted still materialize under
// the standalone layout instead of being swept away silently.
func (s *GroupStore) OperationalState(id string) (model.GroupStatus, error) {
	group, err := s.GetByID(id)
	if errors.Is(err, ErrGroupNotFound) {
		return model.GroupStatusRunning, nil
	}
	if err != nil {
		return "", err
	}
	return group.Status, nil
}

// NameByID resolves a group id to its name for path derivation. A missing
// group resolves to the empty string, which routes the record to the
// standalone path layout.
func (s *GroupStore) NameByID(id string) (string, error) {
	group, err := s.GetByID(id)
	if errors.Is(err, ErrGroupNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return group.Name, nil
}
