// Package quota implements the admission-time resource gate.
//
// A Gate combines a Ledger (the consumable balance), a static cost table keyed
// by job type, an optional unlimited-quota Entitlement and a small pool of
// externally granted bypass tokens. TryConsume is called once per submission:
//
//  1. cost 0 (or unknown) job types pass without touching the ledger;
//  2. an active entitlement admits the job at zero cost;
//  3. a balance covering the cost is charged;
//  4. an available bypass token is spent;
//  5. otherwise *InsufficientResourceError is returned.
//
// The gate is never consulted again at dispatch time: a job that was affordable
// when submitted is not rejected later.
//
//	ledger := quota.NewMemoryLedger(10)
//	gate, _ := quota.NewGate(ledger, quota.WithCosts(map[string]int64{"generate_plan": 3}))
//	gate.Grant(1)
//	charged, err := gate.TryConsume(ctx, "generate_plan")
package quota
