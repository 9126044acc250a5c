// Package async provides a small generic future/promise pair.
//
// A Promise is held by the producer of a value and completed exactly once
// with Resolve or Reject. The matching Future is handed to consumers, who
// wait with Await, AwaitContext or AwaitWithTimeout, or poll with IsComplete.
// Completing a promise twice is an error (ErrAlreadyCompleted) rather than a
// silent overwrite, which makes double delivery visible in tests.
//
// The job queue uses a Promise per awaited job: it is registered before the
// job is stored and completed when the job reaches a terminal state.
//
//	p := async.NewPromise[string]()
//	go func() { _ = p.Resolve("done") }()
//	res, err := p.Future().AwaitContext(ctx)
//
// Async runs a function in a goroutine and returns its Future directly.
package async
