// Package dedup decides whether an incoming config admission may reuse an
// existing record. Two active records must never claim the same file path:
// without this gate each pass would rewrite the other's file and the proxy
// would observe flapping content.
package dedup

import (
	"fmt"
	"log/slog"

	"github.com/proxyforge/proxyforge/internal/confpath"
	"github.com/proxyforge/proxyforge/internal/store"
)

// Reason classifies an admission decision.
type Reason string

const (
	ReasonNoCollision    Reason = "no-collision"
	ReasonExactDuplicate Reason = "exact-duplicate"
	ReasonPathConflict   Reason = "path-conflict"
)

// Decision is the outcome of AdmitOrReuse. When Create is false the caller
// must reuse ExistingID; for a path conflict it is also responsible for
// pushing the new content into that record.
type Decision struct {
	Create     bool
	ExistingID string
	Reason     Reason
	Checksum   string
}

// Deduplicator answers admission queries against the record store.
type Deduplicator struct {
	configs *store.ConfigStore
	logger  *slog.Logger
}

// New creates a Deduplicator.
func New(configs *store.ConfigStore, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{configs: configs, logger: logger}
}

// AdmitOrReuse determines whether a record with the given target path and
// content may be created, or whether an existing active record must be
// reused. An exact duplicate (same path, same checksum) makes repeated
// "ensure this config exists" calls idempotent; a path conflict (same path,
// different checksum) becomes an update-in-place of the earlier record.
func (d *Deduplicator) AdmitOrReuse(groupID *string, targetPath, content string) (*Decision, error) {
	checksum := confpath.ChecksumString(content)

	exact, err := d.configs.FindActiveByPathAndChecksum(groupID, targetPath, checksum)
	if err != nil {
		return nil, fmt.Errorf("dedup exact-duplicate lookup: %w", err)
	}
	if exact != nil {
		d.logger.Debug("admission reuses exact duplicate", "recordID", exact.ID, "path", targetPath)
		return &Decision{Create: false, ExistingID: exact.ID, Reason: ReasonExactDuplicate, Checksum: checksum}, nil
	}

	claimant, err := d.configs.FindActiveByPath(groupID, targetPath)
	if err != nil {
		return nil, fmt.Errorf("dedup path-conflict lookup: %w", err)
	}
	if claimant != nil {
		d.logger.Info("admission overwrites existing path claimant",
			"recordID", claimant.ID, "path", targetPath)
		return &Decision{Create: false, ExistingID: claimant.ID, Reason: ReasonPathConflict, Checksum: checksum}, nil
	}

	return &Decision{Create: true, Reason: ReasonNoCollision, Checksum: checksum}, nil
}

// MergeDuplicates collapses active records that already share a
// (path, checksum) pair, keeping the most recently created of each set and
// hard-deleting the rest along with their file-tracking rows. Duplicates can
// predate the admission gate or slip in through a race; this is an explicit
// maintenance operation, not something run on every read.
func (d *Deduplicator) MergeDuplicates(groupID *string) (int, error) {
	sets, err := d.configs.DuplicateSets(groupID)
	if err != nil {
		return 0, fmt.Errorf("scan duplicate sets: %w", err)
	}

	removed := 0
	for _, set := range sets {
		keep := set[0] // newest created
		for _, rec := range set[1:] {
			if err := d.configs.DeleteByID(rec.ID); err != nil {
				return removed, fmt.Errorf("delete duplicate record %s: %w", rec.ID, err)
			}
			removed++
			d.logger.Info("merged duplicate record",
				"removedID", rec.ID, "keptID", keep.ID, "path", *keep.ConfigPath)
		}
	}
	return removed, nil
}
