package queue

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// SpaceChecker returns the free bytes on the volume containing dir.
type SpaceChecker func(dir string) (uint64, error)

func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// checkFreeSpace enforces the configured free-space floor.
// need is the size of the payload about to be written.
func (q *Queue) checkFreeSpace(need uint64) error {
	if q.minFreeBytes == 0 || q.freeSpace == nil {
		return nil
	}
	free, err := q.freeSpace(q.Dir())
	if err != nil {
		// An unreadable statfs is not proof of exhaustion; the write decides.
		q.logger.Warn("free space probe failed", "dir", q.Dir(), "err", err)
		return nil
	}
	if free < q.minFreeBytes+need {
		return storageErr("enqueue", fmt.Errorf("%w: %d bytes free, need %d", ErrStorageExhausted, free, q.minFreeBytes+need))
	}
	return nil
}
