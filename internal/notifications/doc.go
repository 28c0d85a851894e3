// Package notifications posts batch summaries and task failures to an ntfy
// topic.
//
// NewService returns a no-op notifier when no topic is configured, so callers
// can invoke it unconditionally. Delivery errors are returned to the caller,
// which logs them; a failed notification never fails a composition.
package notifications
