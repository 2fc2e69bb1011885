// Package client provides the `orderpipe` command-line client.
//
// The CLI talks to the orderpipe HTTP endpoint to publish order events,
// fetch stored orders, and drain dead-letter queues from a terminal. It is
// primarily intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it reads
// ORDERPIPE_HTTP and defaults to http://127.0.0.1:8080.
//
// Usage
//
//	orderpipe order publish --data '{"orderId":"O1","userId":"u42","quantity":3}'
//	orderpipe order publish --file order.json
//	orderpipe order get --id O1
//
//	orderpipe queue stats
//
//	# Browse a dead-letter queue, optionally with a CEL filter
//	orderpipe queue inspect --queue orders-dlq
//	orderpipe queue inspect --queue orders-dlq --filter 'json.quantity >= 10'
//	orderpipe queue inspect --queue orders --parked
//
//	# Put a quarantined message back on the main queue
//	orderpipe queue requeue --queue orders-dlq --id MSG_ID --to orders
//
// Notes
//
//   - inspect lists messages without leasing them, so it never affects
//     delivery or receive counts.
//   - requeue resets the delivery state of the moved message; the receive
//     counter starts over on the destination queue.
package client
