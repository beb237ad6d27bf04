// Package runner executes stage work claimed from the durable queue. A
// batch run claims visible messages, drives each job's registered stage
// handler, and applies the outcome: advance to the next stage, retry
// with backoff, or fail the job once its attempt budget is spent. A
// heartbeat goroutine keeps both the job row and the queue lease fresh
// for as long as a handler runs.
package runner
