package types

// ActionResult is the {success, data, error} shape returned by checkout write
// paths. Failures carry a human-readable message rather than an error code.
type ActionResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Succeeded(data any) ActionResult {
	return ActionResult{Success: true, Data: data}
}

func Failed(message string) ActionResult {
	return ActionResult{Success: false, Error: message}
}
