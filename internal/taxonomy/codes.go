// ABOUTME: Closed catalogue of tool error codes with retry and transience classification.
// ABOUTME: Every error an agent can observe maps to exactly one code defined here.

package taxonomy

// Code identifies one member of the error catalogue. The set is closed:
// handlers that cannot classify a failure must use CodeInternal rather
// than inventing a new code.
type Code string

// X API errors.
const (
	CodeXRateLimited       Code = "x_rate_limited"
	CodeXAuthExpired       Code = "x_auth_expired"
	CodeXForbidden         Code = "x_forbidden"
	CodeXAccountRestricted Code = "x_account_restricted"
	CodeXNetworkError      Code = "x_network_error"
	CodeXAPIError          Code = "x_api_error"
)

// Local subsystem errors.
const (
	CodeStorageError    Code = "storage_error"
	CodeValidationError Code = "validation_error"
	CodeGenerationError Code = "generation_error"
	CodeMediaError      Code = "media_error"
	CodePolicyError     Code = "policy_error"
	CodeNotFound        Code = "not_found"
	CodeInternal        Code = "internal_error"
)

// Group identifies the origin of an error code.
type Group string

const (
	GroupXAPI       Group = "x_api"
	GroupStorage    Group = "storage"
	GroupValidation Group = "validation"
	GroupGeneration Group = "generation"
	GroupMedia      Group = "media"
	GroupPolicy     Group = "policy"
	GroupNotFound   Group = "not_found"
	GroupInternal   Group = "internal"
)

// classification is the fixed retry/transience behavior of one code.
// Transient implies retryable: transient errors are safe for the gateway
// to retry automatically, while retryable-but-not-transient errors (rate
// limits, expired auth) need caller-driven recovery first.
type classification struct {
	group     Group
	retryable bool
	transient bool
}

var catalogue = map[Code]classification{
	CodeXRateLimited:       {GroupXAPI, true, false},
	CodeXAuthExpired:       {GroupXAPI, true, false},
	CodeXForbidden:         {GroupXAPI, false, false},
	CodeXAccountRestricted: {GroupXAPI, false, false},
	CodeXNetworkError:      {GroupXAPI, true, true},
	CodeXAPIError:          {GroupXAPI, true, true},
	CodeStorageError:       {GroupStorage, true, false},
	CodeValidationError:    {GroupValidation, false, false},
	CodeGenerationError:    {GroupGeneration, true, false},
	CodeMediaError:         {GroupMedia, false, false},
	CodePolicyError:        {GroupPolicy, true, false},
	CodeNotFound:           {GroupNotFound, false, false},
	CodeInternal:           {GroupInternal, false, false},
}

// Codes returns every catalogued code. The slice is freshly allocated.
func Codes() []Code {
	out := make([]Code, 0, len(catalogue))
	for c := range catalogue {
		out = append(out, c)
	}
	return out
}

// Known reports whether c is a member of the catalogue.
func Known(c Code) bool {
	_, ok := catalogue[c]
	return ok
}

// GroupOf returns the origin group for a code. Unknown codes map to
// GroupInternal.
func GroupOf(c Code) Group {
	if cl, ok := catalogue[c]; ok {
		return cl.group
	}
	return GroupInternal
}

// Retryable reports whether an agent may safely re-issue a call that
// failed with this code. Unknown codes are not retryable.
func Retryable(c Code) bool {
	if cl, ok := catalogue[c]; ok {
		return cl.retryable
	}
	return false
}

// Transient reports whether the gateway itself may retry the call
// automatically with backoff. Transient is a strict subset of retryable.
func Transient(c Code) bool {
	if cl, ok := catalogue[c]; ok {
		return cl.transient
	}
	return false
}
