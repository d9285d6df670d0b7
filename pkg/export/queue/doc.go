// Package queue runs queued exports in the background.
//
// A Queue implements export.JobSubmitter. Submitted jobs are serialised to
// JSON, pushed onto a Transport and picked up by a pool of workers that hand
// them to an export.JobRunner (usually the dispatcher). Two transports are
// provided:
//
//   - ChannelTransport: an in-process buffered channel
//   - RedisTransport: a Redis list shared by several processes (LPUSH/BRPOP)
//
// Every state change is written to a StatusStore so callers can poll a job by
// ID. Statuses live in memory (MemoryStatusStore) or in SQLite
// (SQLiteStatusStore).
//
// # Chained Jobs
//
// A job may carry chained follow-ups. They run in order on the same worker
// once the export was stored, each through the ChainHandler registered under
// its name. The first failing follow-up fails the job; the stored file is
// kept. Jobs are not retried.
//
// # Usage
//
//	q := queue.New(queue.ConfigFrom(&cfg.Queue), queue.NewChannelTransport(100), queue.NewMemoryStatusStore())
//	d := dispatch.New(dcfg, dispatch.Deps{Jobs: q, Registry: registry, Disks: disks})
//	if err := q.Start(ctx, d); err != nil {
//	    return err
//	}
//	defer q.Shutdown(context.Background())
package queue
