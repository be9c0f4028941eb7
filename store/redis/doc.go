// Package redis implements the job and schedule stores using Redis for
// high-throughput ephemeral workloads. Records are stored as msgpack
// blobs; pending jobs live in per-priority Sorted Sets scored by enqueue
// time, and time-gated jobs wait in a delayed Sorted Set scored by their
// RunAt until a claim promotes them.
//
// The caller owns the Redis client lifecycle. Pass it through the
// constructor:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
