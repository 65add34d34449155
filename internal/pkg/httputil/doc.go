// Package httputil holds the response helpers shared by the live core's
// handlers: JSON bodies, the error envelope, request decoding and the
// server-sent events writer used by the presence and notification streams.
package httputil
