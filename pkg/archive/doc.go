// Package archive stores the raw pages of an export.
//
// Every completed task output can be written to one or more sinks:
//
//   - FileSink writes <dir>/<name>_<iteration>.json, indented, plus
//     objects.json and rules.json for the merged dataset.
//   - RedisSink stores the page under ckp:<name>:<iteration> with a TTL so
//     that exports can be shared between operators.
//
// Hooks plugs the sinks into a job.Scheduler. Archiving is best effort: a
// failing sink is logged and counted, it never fails the task.
//
// # Basic Usage
//
//	files, err := archive.NewFileSink("/tmp/export")
//	if err != nil {
//		return err
//	}
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	scheduler.Use(archive.NewHooks(files, archive.NewRedisSink(redisClient, 24*time.Hour)))
//
// # Metrics
//
//   - ckp_archive_pages_total{sink}: pages written per sink
//   - ckp_archive_bytes_total{sink}: bytes written per sink
//   - ckp_archive_errors_total{sink}: failed writes per sink
package archive
