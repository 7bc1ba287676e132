// Package statusfeed pushes arena status changes to websocket subscribers.
//
// Hub is an http.Handler. Each connection first receives the most recent
// update, if any, and then later updates as JSON text messages, oldest first.
// Publish returns without touching the network; updates published while a
// send is still in flight are coalesced into the newest one. Subscribers never
// send anything meaningful; their reads only keep the connection alive until
// it closes.
package statusfeed
