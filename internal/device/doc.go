// Package device drives a single Myo armband over a platform.Platform.
//
// The Driver owns every piece of mutable state and runs a single event loop:
// platform events, timers and user requests are all serialized through it.
// Per-device lifecycle lives in a Machine, a pure state machine that consumes
// platform events and returns the effects the Driver must execute. The
// Dispatcher keeps notification subscriptions in step with what the user asked
// for and decodes incoming values into protocol events.
//
// Callbacks registered in Handlers run on the loop goroutine and must not
// block. They receive a *Myo handle through which reads, writes and
// subscription changes are requested.
package device
