/*
Package webhook dispatches registry events (publish, yank, unyank) to
operator-configured HTTP endpoints. Notify enqueues one delivery row per
subscribed webhook; a ticker-driven Dispatcher drains due deliveries,
signs each payload with the webhook's decrypted secret, and records the
outcome, backing off exponentially on failure until a maximum attempt
count is reached.
*/
package webhook
