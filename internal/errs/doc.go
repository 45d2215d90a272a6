// Package errs defines the error taxonomy shared by the realtime client.
//
// Connection-level failures are either transient (retried with backoff)
// or authentication rejections (terminal for the attempt). Construction
// problems are reported as configuration errors. Use errors.Is against
// the sentinels and errors.As for the typed details.
package errs
