// Package breaker is a per-service circuit breaker.
//
// Each service key has its own circuit moving between closed, open and
// half-open. RecordFailure opens a closed circuit after FailureThreshold
// consecutive failures; an open circuit stays open for Cooldown, after which
// IsOpen lets trial calls through in half-open. SuccessThreshold consecutive
// successes close the circuit and any failure in half-open re-opens it.
//
//	b, _ := breaker.New(breaker.WithConfig(breaker.Config{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute}))
//	if b.IsOpen("inference") {
//		wait := b.Remaining("inference")
//		...
//	}
package breaker
