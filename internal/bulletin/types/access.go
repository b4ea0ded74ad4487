package types

type IssueResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	// Expiration is the code deadline in unix milliseconds.
	Expiration int64 `json:"expiration"`
}

type VerifyRequest struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Token   string `json:"token,omitempty"`
	// TokenExpiresAt is unix milliseconds; zero when no token was issued.
	TokenExpiresAt int64 `json:"tokenExpiresAt,omitempty"`
}

type LogoutResponse struct {
	Success bool `json:"success"`
}

type ProbeResponse struct {
	Status     string `json:"status"`
	HasWebhook bool   `json:"hasWebhook"`
	Timestamp  string `json:"timestamp"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}
