package session

// Session is the server-side record of one authenticated device or
// browser instance. RefreshHash is the SHA-256 of the jti of the single
// refresh token currently valid for this session.
type Session struct {
	SessionID   string
	PrincipalID string
	Role        string

	TokenVersion uint32
	RefreshHash  [32]byte

	IPAddress string
	UserAgent string

	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64

	SchemaVersion uint8
}
