// Package engine polls a generated task graph to completion. Each tick it
// refreshes the tasks in flight, admits newly executable tasks up to the
// concurrency cap, persists a status and pid snapshot and redraws the
// graph. A restarted engine resumes from the last snapshot: succeeded
// tasks are kept, running or failed tasks are purged and run again.
package engine
