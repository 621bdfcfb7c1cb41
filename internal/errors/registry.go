package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Protocol Errors (E001-E019)
	// ============================================

	"E001": {
		Category:   CategoryProtocol,
		Message:    "Connection failed",
		Detail:     "Unable to establish a WebSocket connection to the server.",
		Suggestion: "Check that 'tickwire serve' is running and the URL ends in /ws",
	},
	"E002": {
		Category:   CategoryProtocol,
		Message:    "Schema fingerprint mismatch",
		Detail:     "The client's component registry differs from the server's. Component order and field layout must match exactly, or snapshots cannot be decoded.",
		Suggestion: "Run client and server with the same --compressed setting",
	},
	"E003": {
		Category: CategoryProtocol,
		Message:  "Protocol version mismatch",
		Detail:   "The client and server speak incompatible protocol versions.",
	},
	"E004": {
		Category:   CategoryProtocol,
		Message:    "Server full",
		Detail:     "The server has reached its peer limit.",
		Suggestion: "Raise server.maxPeers in tickwire.json or try again later",
	},
	"E005": {
		Category: CategoryProtocol,
		Message:  "Handshake failed",
		Detail:   "The server rejected the handshake.",
	},
	"E006": {
		Category: CategoryProtocol,
		Message:  "Connection closed by server",
		Detail:   "The server ended the session.",
	},

	// ============================================
	// Replication Errors (E020-E039)
	// ============================================

	"E020": {
		Category:   CategoryReplication,
		Message:    "Too many desyncs",
		Detail:     "Snapshots kept failing to decode after resync requests, so the client gave up.",
		Suggestion: "Raise replication.maxDesyncs, or check that both sides registered components in the same order",
	},
	"E021": {
		Category: CategoryReplication,
		Message:  "Snapshot decode failed",
		Detail:   "A recorded snapshot could not be applied.",
	},

	// ============================================
	// Storage Errors (E040-E059)
	// ============================================

	"E040": {
		Category:   CategoryStorage,
		Message:    "Recording not found",
		Detail:     "No segments exist for this session.",
		Suggestion: "Run 'tickwire replay --list' to see recorded sessions",
	},
	"E041": {
		Category: CategoryStorage,
		Message:  "Recording incomplete",
		Detail:   "The stream ended without its final frame. The server probably stopped before closing the recording.",
	},
	"E042": {
		Category: CategoryStorage,
		Message:  "Recording store unavailable",
		Detail:   "The recording backend could not be reached.",
	},
	"E043": {
		Category: CategoryStorage,
		Message:  "Invalid recording",
		Detail:   "The recording does not start with a stream header.",
	},

	// ============================================
	// Configuration Errors (E120-E139)
	// ============================================

	"E120": {
		Category:   CategoryConfig,
		Message:    "Invalid tickwire.json",
		Detail:     "The tickwire.json configuration file is malformed.",
		Suggestion: "Check that tickwire.json is valid JSON",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Missing required configuration",
		Detail:   "A required configuration value is not set.",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid listen address",
		Detail:   "server.address must be host:port with a port between 0 and 65535.",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Invalid tick rate",
		Detail:   "server.tickRate must be between 1 and 1000 ticks per second.",
	},
	"E124": {
		Category: CategoryConfig,
		Message:  "Unknown recording backend",
		Detail:   "recording.backend must be one of disk, s3 or redis.",
	},
	"E125": {
		Category: CategoryConfig,
		Message:  "Value out of range",
		Detail:   "A numeric setting is outside its allowed range.",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
		Detail:   "A command line flag has a value the command cannot use.",
	},
	"E141": {
		Category:   CategoryCLI,
		Message:    "Config file not found",
		Detail:     "No tickwire.json was found at the given path.",
		Suggestion: "Run 'tickwire init' to write one with default settings",
	},
	"E142": {
		Category:   CategoryCLI,
		Message:    "Config file already exists",
		Detail:     "Refusing to overwrite an existing tickwire.json.",
		Suggestion: "Pass --force to overwrite it",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
