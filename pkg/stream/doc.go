/*
Package stream projects executor transitions into the ordered event stream
consumed by clients.

Projection is a pure function of a transition. Framing (Server-Sent Events) and
fan-out to passive watchers live here as well, so every transport emits the same
sequence.
*/
package stream
