package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Handshake.
	ErrAuth       = "E_AUTH"
	ErrNameTaken  = "E_NAME_TAKEN"
	ErrServerFull = "E_SERVER_FULL"

	// Action layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrStale      = "E_STALE"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrAuth:            {},
	ErrNameTaken:       {},
	ErrServerFull:      {},
	ErrBadRequest:      {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// IsIdentityRejection reports whether a handshake error code means the server refused who we are,
// as opposed to a transient or transport problem.
func IsIdentityRejection(code string) bool {
	switch code {
	case ErrAuth, ErrNameTaken:
		return true
	default:
		return false
	}
}
