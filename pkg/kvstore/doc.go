// Package kvstore defines the key/value contract used to persist queue
// snapshots and ships two local implementations: Memory for tests and
// single-process use, and File for durable storage on local disk.
//
// Network backends live in sub-packages: redisstore, pgstore and mongostore.
// All of them return nil, nil from Get for a missing key.
package kvstore
