// Package app provides the application service layer.
//
// Turns operator input from the HTTP API into domain calls: manual captures,
// Twitch lookups by URL, subscription admin by login and settings admin.
// Depends on domain interfaces, not concrete adapters.
package app
