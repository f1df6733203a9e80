// Package future provides a settle-once result container and the small
// capability interfaces the action queue consumes.
//
// A Future is settled exactly once, either resolved with a (possibly empty)
// list of values or rejected with an error. Later settle attempts are ignored
// and report false.
//
// Actions submitted to the queue return an Awaitable. An Awaitable may also
// implement Canceller or Aborter; the queue probes for those when it has to
// stop in-flight work. Go and After build cancellable Tasks on top of a
// context, which is the usual way to produce such an Awaitable.
package future
