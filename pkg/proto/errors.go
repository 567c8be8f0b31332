package proto

import "fmt"

// ErrUnknownMethod builds the Response.Error string the dispatcher must use
// when asked to invoke a method it has no handler for. Callers probe for
// feature-unavailability with strings.Contains(err, "unknown method:"),
// per spec §4.1's compatibility rule — the substring must be literal.
func ErrUnknownMethod(method string) string {
	return fmt.Sprintf("unknown method: %s", method)
}

// ErrCapabilityUnavailable builds the Response.Error string for a method the
// dispatcher recognizes but the loaded kernel build does not implement.
func ErrCapabilityUnavailable(method string) string {
	return fmt.Sprintf("%s: this kernel build does not export %s; it is not available", method, method)
}
