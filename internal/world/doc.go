// Package world models the environments clients occupy and the clients themselves.
//
// # Overview
//
// Every dataset is a directory under a common container path. Host tracks which
// of those datasets are currently loaded as Environments and which Clients are
// connected and where they stand.
//
//	container/
//	├── world/        fallback environment, always loaded
//	├── tpl_subway/   template dataset, never loaded by the arena
//	└── mm_active/    active dataset, replaced on every reset
//
// # Thread Safety
//
// Every method that changes environments or clients takes a *control.Ctx and must
// be called from the control loop. Read-only queries such as Loaded and
// ClientCount are safe from any goroutine and observe a consistent snapshot.
//
// # Markers
//
// A loaded environment holds a session.lock file in its directory and is identified
// by the uid.dat file, which is created on first load. Two loaded environments may
// not share a uid; copying a dataset therefore has to drop uid.dat.
package world
