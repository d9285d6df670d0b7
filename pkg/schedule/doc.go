// Package schedule queues dataset exports on cron schedules.
//
// Each configured schedule names a dataset, a standard 5-field cron
// expression and a destination path. When an entry fires, the dataset's
// exporter is queued through the dispatcher, so the export itself runs on
// the job workers. Paths may contain Go time layouts between braces:
//
//	path: nightly/users-{2006-01-02}.csv   ->  nightly/users-2024-05-01.csv
//
// The same cron runner also prunes finished job statuses when AddPruning is
// used. Apply replaces the export entries and can be called again after a
// configuration reload while the scheduler is running.
package schedule
