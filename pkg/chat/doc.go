// Package chat holds the conversation domain model shared by the store, the
// generation adapter and the websocket relay.
package chat
