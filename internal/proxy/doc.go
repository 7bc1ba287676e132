// Package proxy connects the arena server to the proxy that fronts it.
//
// # Overview
//
// The proxy owns client connections across servers. The arena only needs two
// things from it: moving a client to another server, and hearing this server's
// status line on a regular basis.
//
//	POST <proxy>/send       {"client": "...", "server": "lobby"}
//	POST <proxy>/heartbeat  {"serverId": "...", "payload": "...", "sentAt": "..."}
//
// Client implements both calls over JSON/HTTP with a 5 second request timeout.
// LogOnly stands in for Client when no proxy address is configured, so a single
// server can run on its own.
//
// # Heartbeats
//
// HeartbeatPublisher sends one heartbeat immediately and then one per interval.
// After three consecutive delivery failures the proxy is marked unreachable and
// the optional callback runs; the next successful delivery marks it reachable
// again. Delivery can be replaced with SetSendFunction for tests.
//
// # Usage
//
//	client := proxy.NewClient("localhost:8070")
//	hb := proxy.NewHeartbeatPublisher(client, "mm-game", 5*time.Second, func() string {
//		return svc.Status().Payload()
//	})
//	go hb.Start(ctx)
//	defer hb.Stop()
package proxy
