package protocol

// Category separates system traffic (handshakes, replies, broadcasts) from
// user-originated action requests. System envelopes are exempt from API key
// checks.
type Category string

const (
	CategorySystem Category = "system"
	CategoryUser   Category = "user"
)

// Reserved action identifiers the protocol layer recognizes. Everything else
// is routed purely by the registry.
const (
	ActionImportModel        = "import_model"
	ActionPlaceModel         = "place_model"
	ActionAnalyzeEnvironment = "analyze_environment"

	ActionHandshake  = "handshake"
	ActionDisconnect = "disconnect"

	ActionResultMessage      = "action_result"
	ActionStateUpdateMessage = "action_state_update"
	EnvironmentUpdateMessage = "environment_update"
)

// Envelope is the unit exchanged over a connection. Action-specific fields
// live flat next to the routing fields on the wire; the codec lifts them
// into Payload.
type Envelope struct {
	Category  Category
	Action    string
	APIKey    string
	Timestamp string
	Payload   Payload
}

// Vec3 is a 3-component coordinate triple.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Triple returns the vector as a positional array, the form state broadcasts
// use on the wire.
func (v Vec3) Triple() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// ActionResult is the outcome of dispatching one envelope. Success results
// never carry an error message; use OK and Fail to preserve that.
type ActionResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// OK builds a successful result. A nil data map is allowed.
func OK(data map[string]any) ActionResult {
	return ActionResult{Success: true, Data: data}
}

// Fail builds a failure result with the given message.
func Fail(message string) ActionResult {
	return ActionResult{Success: false, Error: message}
}
