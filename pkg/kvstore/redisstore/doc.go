// Package redisstore persists queue snapshots in redis.
//
//	client, err := redisstore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store, _ := redisstore.New(client, cfg.KeyPrefix)
//
// Healthcheck(client) doubles as a connectivity probe.
package redisstore
