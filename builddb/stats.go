package builddb

import (
	"os"

	bolt "go.etcd.io/bbolt"
)

// DBStats summarizes the contents of a build database for the `status`
// CLI subcommand and service.GetStatus.
type DBStats struct {
	TotalBuilds   int
	TotalPackages int
	TotalCRCs     int
	DatabaseSize  int64
}

// Stats computes aggregate counts across the builds, packages, and
// crc_index buckets, plus the on-disk database file size.
func (db *DB) Stats() (*DBStats, error) {
	stats := &DBStats{}

	err := db.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(BucketBuilds)); b != nil {
			stats.TotalBuilds = b.Stats().KeyN
		}
		if b := tx.Bucket([]byte(BucketPackages)); b != nil {
			stats.TotalPackages = b.Stats().KeyN
		}
		if b := tx.Bucket([]byte(BucketCRCIndex)); b != nil {
			stats.TotalCRCs = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return nil, &DatabaseError{Op: "stats", Err: err}
	}

	if info, err := os.Stat(db.path); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}
