// Package shared holds types used by more than one domain package.
package shared

// DomainError is a validation or lookup failure carrying a stable code.
// Two DomainErrors match under errors.Is when their codes are equal, so a
// repository may return a more specific message than the sentinel.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// ErrNotFound is returned by repositories for missing rows
var ErrNotFound = NewDomainError("NOT_FOUND", "Resource not found")
