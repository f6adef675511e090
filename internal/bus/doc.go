// Package bus implements the in-process event fan-out connecting all input
// sources (local API, remote commands, hardware edges, timer expiries) to
// all consumers (state machine, durable queue, live streams).
//
// Every published event receives a monotonic sequence number at ingestion.
// Events from a single source reach every subscriber in emission order;
// no total ordering across sources is promised beyond the sequence numbers.
package bus
