// Package errors provides structured, actionable error messages for the
// tickwire CLI.
//
// Library packages return plain Go errors. The CLI and the config loader
// turn the ones a user can act on into an *Error that carries:
//   - A stable code (e.g. "E002") with a short message
//   - A detailed explanation
//   - The source involved (a config file or a server URL)
//   - A suggestion and an optional usage example
//
// # Error Categories
//
//   - config: tickwire.json problems
//   - protocol: handshake and connection failures
//   - replication: snapshots that could not be decoded
//   - storage: recording backends
//   - cli: bad flags and arguments
//
// # Usage
//
//	err := errors.New("E002").
//	    WithSource("ws://localhost:7000/ws").
//	    WithSuggestion("Run client and server with the same --compressed setting")
//
//	errors.PrintError(err)
//	// ERROR E002: Schema fingerprint mismatch
//	//
//	//   ws://localhost:7000/ws
//	//
//	//   The client's component registry differs from the server's...
//	//
//	//   Hint: Run client and server with the same --compressed setting
package errors
