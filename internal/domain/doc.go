// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (capture.go, settings.go, twitch.go, ...) hold shared
// types and the interfaces consumers depend on. No implementation code.
package domain
