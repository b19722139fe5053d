// Package twitch talks to the Twitch platform.
//
// Session owns the app access token and sends authenticated requests. Client
// wraps the Helix endpoints on top of it, SubscriptionManager keeps the
// EventSub subscription set per broadcaster consistent, and WebhookHandler
// plus Dispatcher turn EventSub deliveries into queued captures and
// notifications.
package twitch
