package model

// CheckRequest is the boundary contract described in spec.md §6.
type CheckRequest struct {
	Identifier string `json:"identifier"`
	Scope      Scope  `json:"scope"`
	PolicyID   *string `json:"policyId,omitempty"`
	TenantID   *string `json:"tenantId,omitempty"`
	APIKey     *string `json:"apiKey,omitempty"`
	IPAddress  *string `json:"ipAddress,omitempty"`
	Resource   *string `json:"resource,omitempty"`
	Method     *string `json:"method,omitempty"`
}

// CheckResponse is the boundary contract described in spec.md §6.
type CheckResponse struct {
	Allowed          bool       `json:"allowed"`
	Remaining        int        `json:"remaining"`
	Limit            int        `json:"limit"`
	ResetInSeconds   int        `json:"resetInSeconds"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
	PolicyID         *string    `json:"policyId,omitempty"`
	Algorithm        *string    `json:"algorithm,omitempty"`
	Reason           DenyReason `json:"reason,omitempty"`
}
