// Package broadcast provides type-safe one-to-many message fan-out.
//
// MemoryBroadcaster never blocks the publisher. What happens to a subscriber
// whose buffer is full is chosen with WithSlowPolicy: DropSubscriber (the
// default) removes it, KeepLatest discards its oldest buffered message.
// WithReplayLatest hands every new subscriber the last broadcast message, so a
// late subscriber starts from the current state instead of waiting for the next
// change. The job queue publishes status snapshots this way.
//
//	b := broadcast.NewMemoryBroadcaster[Status](8,
//	    broadcast.WithSlowPolicy(broadcast.KeepLatest),
//	    broadcast.WithReplayLatest(),
//	)
//	defer b.Close()
//
//	sub := b.Subscribe(ctx) // removed when ctx is cancelled
//	for msg := range sub.Receive(ctx) {
//	    render(msg.Data)
//	}
package broadcast
