// Package mongostore persists queue snapshots in a MongoDB collection.
//
//	client, err := mongostore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store, _ := mongostore.NewFromClient(client, cfg)
package mongostore
