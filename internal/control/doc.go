// Package control provides the two execution domains used by the arena server.
//
// # Overview
//
// Loop is the single-threaded control context. Exactly one goroutine drains its
// task queue, and it is the only goroutine allowed to mutate loaded environments
// or connected clients. Operations that must run there take a *Ctx parameter.
// A Ctx can only be obtained inside a task submitted to a Loop, so calling such an
// operation from anywhere else does not compile unless the caller already holds one.
//
// Workers is the unbounded background pool used for file-system work. Tasks run
// on Workers never receive a Ctx.
//
// # Usage
//
//	loop := control.NewLoop()
//	loop.Start()
//	defer loop.Stop()
//
//	err := loop.Call(ctx, func(c *control.Ctx) error {
//	    return host.Connect(c, client)
//	})
//
// Calling Loop.Call from inside a loop task deadlocks; code already running on the
// loop should use the Ctx it was given.
package control
