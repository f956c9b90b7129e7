package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/fixpoint/repairs_backend/config"
	"github.com/bsm/redislock"
)

// ErrLockNotObtained is returned when another worker already holds the lock.
var ErrLockNotObtained = errors.New("could not obtain lock")

// TicketLock serializes ticket-level operations across instances using a
// redis lock. The returned release func must be called (commit or rollback)
// once the posting transaction is finished.
func TicketLock(ctx context.Context, ticketId int, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when the redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", ticketId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("ticket-consume:%d", ticketId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for ticket", ticketId, err)
		return nil, ErrLockNotObtained
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for ticket", ticketId, err)
		return nil, err
	}
	release := func() {
		_ = lock.Release(ctx)
	}
	return release, nil
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}
