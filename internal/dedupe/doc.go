// Package dedupe provides a bounded window of recently seen message ids
// to suppress duplicate deliveries of the same server message.
package dedupe
