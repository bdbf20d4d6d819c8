package middleware

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)
