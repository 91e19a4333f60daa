// Package rate implements the fixed-window counter used by the admission
// engine.
//
// # Window semantics
//
// Fixed windows aligned to the Unix epoch: bucket = floor(now / window). Each
// (category, identity, bucket) owns one Redis counter that is incremented and
// given its TTL by a single Lua script, so no caller ever reads-then-writes a
// counter. Key layout:
//
//	<prefix>:rl:<category>:<identity>:<bucket>
//
// # What this package must NOT do
//
//   - Decide admission, bans, or failure policy (the engine does).
//   - Be imported outside the goGate module.
package rate
