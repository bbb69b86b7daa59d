// Package receiver is the ingest path for agent observations.
//
// Receiver.Accept rejects observations without a source_id or with an
// unknown state, evaluates inputs the agent shipped without metrics, stores
// the observation and feeds it to the alert engine. The HTTP handler in
// package api is its only transport; authentication happens there.
package receiver
