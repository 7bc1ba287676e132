// Package maps loads arena map definitions and resolves their spawn points.
//
// A Definition names a template dataset and stores its spawns without any
// environment attached. Spawns are bound to whichever environment is active at
// read time, so the same definition serves every fresh copy of the template.
//
// Definitions are read from a YAML file:
//
//	maps:
//	  subway:
//	    templateWorld: tpl_subway
//	    waiting:   {x: 0.5, y: 70, z: 0.5}
//	    spectator: {x: 0.5, y: 95, z: 0.5, pitch: 90}
//	    spawns:
//	      "1": {x: 10, y: 64, z: 3, yaw: 180}
//	      "2": {x: -10, y: 64, z: 3}
//
// Registry keeps the parsed definitions keyed by lower-cased id and can be
// reloaded from the same file; Watcher triggers that reload when the file changes.
package maps
