// Package pgstore persists queue snapshots in PostgreSQL through pgx.
//
// The schema is a single jobqueue_kv table created by an embedded goose
// migration:
//
//	pool, err := pgstore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//	store, _ := pgstore.New(pool)
package pgstore
