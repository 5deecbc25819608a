// Package pipeline drives a request through its lifecycle:
// preprocess, enqueue, dispatch, sign, upstream I/O, postprocess, respond.
//
// Preprocessing normalizes the model id, translates the body into the
// upstream dialect, counts prompt tokens and validates the context window.
// The request then waits in its admission-queue partition for a key. Each
// upstream attempt signs the request with the dispatched credential; the
// error classifier decides whether a failure mutates key state, re-enqueues
// the request (capped by MaxRetries, with per-attempt mutations reverted) or
// surfaces to the client. Postprocessing runs after every 2xx upstream
// response, including streams cut short: it recounts completion tokens and
// credits key and user usage; upstream rate-limit headers are recorded on
// the same path. Attempts that fail (a transport error or a non-2xx status)
// are not postprocessed.
package pipeline
