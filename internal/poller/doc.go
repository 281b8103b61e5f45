// Package poller follows long-running jobs that use the accept-then-poll
// protocol:
//
//   - the submission request must be answered with 202 Accepted and a Location
//     header naming the job status URL;
//   - the status URL is polled on a fixed interval (500ms by default);
//   - a 200 reply with body "done" ends the session successfully, optionally
//     with a Location header to navigate to;
//   - any other 200 body is a percentage and polling continues;
//   - any other status ends the session with "Error <status>".
//
// A Session owns its ticker, its Display and its Navigator. It runs as a
// cancellable task whose Done channel closes on the terminal transition. Time
// is taken from an injected clock.Clock so the state machine can be driven in
// tests without real timers.
package poller
