package jobs

import (
	"context"
	"log"
	"time"

	"tgchat/internal/database"
)

const retentionRunTimeout = 2 * time.Minute

// RetentionCleanupJob removes usage accounting rows for chats that have been
// idle past the configured retention period. Conversation context needs no
// cleanup here: Redis expires it via per-key TTLs.
type RetentionCleanupJob struct {
	db            *database.DB
	retentionDays int
}

// NewRetentionCleanupJob creates the retention cleanup job
func NewRetentionCleanupJob(db *database.DB, retentionDays int) *RetentionCleanupJob {
	return &RetentionCleanupJob{db: db, retentionDays: retentionDays}
}

// Run deletes stale usage rows
func (j *RetentionCleanupJob) Run() {
	if j.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), retentionRunTimeout)
	defer cancel()

	started := time.Now()
	cutoff := time.Duration(j.retentionDays) * 24 * time.Hour

	deleted, err := j.db.PurgeStale(ctx, cutoff)
	if err != nil {
		log.Printf("❌ [RETENTION] Cleanup failed: %v", err)
		return
	}

	log.Printf("✅ [RETENTION] Purged %d stale usage rows (idle > %dd) in %v",
		deleted, j.retentionDays, time.Since(started))
}
