package models

// APIStatus is the status field of an operational API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful API request.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API request.
	APIStatusError APIStatus = "error"
)

// APIResponse is the envelope for JSON responses from the ops endpoints.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
