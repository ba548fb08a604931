// Package links persists patient access links: opaque tokens mapping to a
// device's recording window, its storage references, and view tracking.
// Registration is serialized per device+date key so concurrent sessions
// cannot mint duplicate links for the same recording.
package links
