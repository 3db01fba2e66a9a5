package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// SubjectLock is a best-effort Redis mutex keyed per subject.
type SubjectLock struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSubjectLock(rdb *redis.Client, prefix string, ttl time.Duration) *SubjectLock {
	return &SubjectLock{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire tries SET NX PX once. When ok is false nothing is held and release is nil.
// release reports whether the key was still ours when deleted.
func (l *SubjectLock) Acquire(ctx context.Context, subjectID string) (release func(context.Context) (bool, error), ok bool, err error) {
	key := l.prefix + subjectID
	value := uuid.NewString()

	ok, err = l.rdb.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) (bool, error) {
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{key}, value).Int64()
		if err != nil {
			return false, err
		}
		return deleted == 1, nil
	}, true, nil
}
