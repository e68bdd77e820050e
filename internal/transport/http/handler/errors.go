package handler

const (
	errInternalServer     = "Internal server error"
	errEmailTaken         = "An account with this email already exists"
	errInvalidCredentials = "Invalid email or password"
	errCodeNotFound       = "No active verification code for this email"
	errCodeExpired        = "Verification code expired, request a new one"
	errCodeMismatch       = "Incorrect verification code"
	errNotVerified        = "Email not verified, check your inbox for a new code"
	errNoPendingChange    = "No email change is pending"
	errUserNotFound       = "User not found"
)
