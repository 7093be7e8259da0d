package errfmt

import "strconv"

// ErrorResponse is the canonical error envelope returned to HTTP clients.
type ErrorResponse struct {
	Error       string         `json:"error"`
	Message     string         `json:"message"`
	Type        Kind           `json:"type"`
	Details     string         `json:"details,omitempty"`
	RetryAfter  int            `json:"retry_after,omitempty"`
	LimitInfo   *LimitInfo     `json:"limit_info,omitempty"`
	Suggestion  string         `json:"suggestion,omitempty"`
}

// LimitInfo describes a rate-limit denial.
type LimitInfo struct {
	Limit     int    `json:"limit"`
	Period    int    `json:"period"`
	RetryAfter int   `json:"retry_after"`
	LimitType string `json:"limit_type"` // "ip" | "tenant"
	Tier      string `json:"tier,omitempty"`
}

// titleFor renders a human title for a Kind, matching the original
// service's capitalised error names.
var titleFor = map[Kind]string{
	KindValidation:     "Validation Error",
	KindAuthentication: "Authentication Error",
	KindAuthorization:  "Authorization Error",
	KindTenant:         "Tenant Error",
	KindRateLimit:      "Rate Limit Exceeded",
	KindConnection:     "Connection Error",
	KindOperation:      "Operation Error",
	KindSchemaConflict: "Schema Conflict",
	KindConfiguration:  "Configuration Error",
	KindSystem:         "System Error",
	KindInternal:       "Internal Error",
}

// Format builds the sanitised error envelope for a typed Error.
func Format(err *Error) ErrorResponse {
	title := titleFor[err.Kind]
	if title == "" {
		title = "Error"
	}
	resp := ErrorResponse{
		Error:   title,
		Message: err.Message,
		Type:    err.Kind,
	}
	if err.Cause != nil {
		resp.Details = SanitizeMessage(err.Cause.Error())
	}
	return resp
}

// FormatRateLimit builds the 429 response shape specified for rate-limit
// denials, including the tier upgrade suggestion when a tier is known.
func FormatRateLimit(limit, period, retryAfter int, limitType, tier string) ErrorResponse {
	resp := ErrorResponse{
		Error:   "Rate Limit Exceeded",
		Message: formatRateLimitMessage(limit, period),
		Type:    KindRateLimit,
		LimitInfo: &LimitInfo{
			Limit:      limit,
			Period:     period,
			RetryAfter: retryAfter,
			LimitType:  limitType,
		},
	}
	if tier != "" {
		resp.LimitInfo.Tier = tier
		resp.Suggestion = "Consider upgrading your tier for higher limits"
	}
	return resp
}

func formatRateLimitMessage(limit, period int) string {
	return "Too many requests. Limit: " + strconv.Itoa(limit) + " requests per " + strconv.Itoa(period) + " seconds"
}
