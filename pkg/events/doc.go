/*
Package events provides a lightweight in-process publish/subscribe broker
for lifecycle events.

Producers (the server, the scheduler, the management plane) publish job
and user lifecycle events; consumers subscribe with a buffered channel.
Delivery is best effort: a subscriber whose channel is full loses the
event rather than blocking the producer, because nothing in the job
pipeline may ever stall on an observer.

# Event types

	job.enqueued   job.started    job.succeeded
	job.failed     job.aborted    job.timeout    job.deleted
	user.created   user.blocked   user.deleted

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			...
		}
	}()

Subscribe returns a buffered channel; Unsubscribe closes it. Publish
never blocks the caller, so producers never need to coordinate shutdown
order with the broker.
*/
package events
