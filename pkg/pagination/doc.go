// Package pagination expands a category fetch once its total item count is
// known.
//
// The management API reports the number of matching items in the "total"
// field of every page. The first page of a category (iteration zero) is
// fetched without knowing that number; when it completes, the Expander
// enqueues the remaining pages into the same scheduler run:
//
//	sched := job.NewScheduler(transport)
//	sched.Use(pagination.NewExpander(sched))
//	sched.Enqueue(job.NewTask("hosts", 500, nil))
//	outcome, err := sched.Run(ctx, 8, 2*time.Minute)
//
// The expander:
//   - Decodes "total" from the iteration-zero output
//   - Computes ceil(total / pageSize) iterations
//   - Enqueues iterations 1..n-1 with offset pageSize*i
//   - Reports a missing or non-numeric total as a task-level error
package pagination
