// Package notifications delivers health alerts via a configured webhook.
//
// The default implementation POSTs a JSON alert document to the webhook
// URL from config.toml and gracefully degrades to a no-op when no URL is
// configured. Monitoring code depends only on the small Service
// interface, so alternative transports slot in without touching the
// health monitor.
package notifications
