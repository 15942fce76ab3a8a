// Package connection owns the single WebSocket socket to the OpenAlgo
// server: the transport client, the connect/close state machine, and the
// authentication handshake. It performs no automatic reconnection;
// callers re-invoke Dial after a transport failure.
package connection
