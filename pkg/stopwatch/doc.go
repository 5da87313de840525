// Package stopwatch records nested timed operations.
//
// A Tree holds one anonymous root Section. Sections contain Events and nested
// Sections; every start/stop of an Event produces a Period in microseconds.
// Many units of work append to the same tree at once. Each unit opens its own
// tagged Section (see Section.Unit) and may also time work in untagged, shared
// sections.
//
// Instrumentation calls never fail. Stopping an event that is not running,
// starting one that already runs, or calling any method on a nil Section or
// Event does nothing.
//
// Every section and event carries its own lock; there is no tree-wide lock.
package stopwatch
