// Package api holds the request and response types of the ChatFlow HTTP API.
//
// # API Overview
//
// ChatFlow exposes a RESTful API for:
//   - Creating, starting and continuing multi-party conversations
//   - Listing and answering human interrupts
//   - Streaming conversation events over WebSocket
//   - Health monitoring and metrics
//
// # Authentication
//
// When configured, endpoints under /api require either an X-API-Key header or
// a bearer JWT:
//
//	X-API-Key: your-api-key
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
