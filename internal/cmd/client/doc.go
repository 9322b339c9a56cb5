// Package client provides the `flume` command-line client.
//
// The CLI talks to the Flume HTTP gateway to ingest records and inspect
// destination health from a terminal. It is primarily intended for
// developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it is
// read from the FLUME_HTTP environment variable and defaults to
// http://127.0.0.1:8080.
//
// Usage
//
//	flume ingest --key orders --data '{"id":"o-17","qty":4}'
//	flume ingest --key orders --data @record.json --durable=false
//
//	flume flush --key orders
//
//	flume health
//	flume destinations
//	flume destinations --stats --recent 10
package client
