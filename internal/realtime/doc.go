// Package realtime implements the subscription and broadcast core: the
// connection registry, the connection lifecycle manager with heartbeat
// eviction, and the broadcast engine that persists project events and fans
// them out to subscribed WebSocket clients.
//
// Shared state is limited to the Registry's two maps, guarded by a single
// mutex. Each connection gets a dedicated write goroutine so a slow client
// never blocks a fan-out pass.
package realtime
