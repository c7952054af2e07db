// Package scriptlang compiles and runs branching narrative scripts
// authored in a small XML surface. A host reads script/defs/JSON source
// into a path-to-text map, compiles it once with CompileProject, then
// drives one or more independent Engine instances with CreateEngine:
// Start an entry script, pull outputs with Next, resolve choice/input
// boundaries with Choose/SubmitInput, and persist/restore a paused run
// with Snapshot/Resume.
package scriptlang
