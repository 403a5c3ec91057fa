package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Selector/session routing.
	ErrBadSelector     = "E_BAD_SELECTOR"
	ErrSessionNotFound = "E_SESSION_NOT_FOUND"

	// Tree validation on push.
	ErrBadTree      = "E_BAD_TREE"
	ErrTreeTooLarge = "E_TREE_TOO_LARGE"

	// Server state.
	ErrRateLimit = "E_RATE_LIMIT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadSelector:     {},
	ErrSessionNotFound: {},
	ErrBadTree:         {},
	ErrTreeTooLarge:    {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
