// Package scheduler holds the bounded in-flight queue the polling engine
// admits tasks into. The queue never holds more tasks than its capacity,
// which is how the engine enforces its concurrency cap.
package scheduler
