// Package webchat is the websocket chat relay.
//
// Ownership model:
//   - ConnectionRegistry owns the session id to connection map; every outbound
//     turn frame goes through it, so a replaced connection never sees frames
//     sent after the replacement.
//   - SessionHandler owns one connection's receive loop. It answers pings,
//     validates chat frames and queues them as turns.
//   - StreamOrchestrator owns a turn: persistence, title, streamed reply.
//
// Recommended setup:
//   - Build a ConnectionRegistry, an AttachmentResolver and a StreamOrchestrator.
//   - Wrap them in a SessionHandler and mount NewAPIHandler on a Server.
package webchat
