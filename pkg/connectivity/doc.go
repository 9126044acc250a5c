// Package connectivity probes a remote endpoint and emits an event whenever it
// becomes reachable again.
//
// A Monitor wraps a Check (HTTPCheck for a plain HEAD probe, or any health
// check such as redisstore.Healthcheck). IsOnline probes on demand; Start adds
// background polling so recoveries are noticed while nobody is asking.
// Restored delivers one signal per offline → online transition.
package connectivity
