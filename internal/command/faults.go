package command

import "fmt"

// FaultKind classifies a user-input parse failure.
type FaultKind string

const (
	BadFormat           FaultKind = "bad_format"
	UnsupportedLanguage FaultKind = "unsupported_language"
	NoSourceCode        FaultKind = "no_source_code"
	PayloadTooLarge     FaultKind = "payload_too_large"
	InvalidEncoding     FaultKind = "invalid_encoding"
)

// Fault is a typed, user-displayable parse failure. Faults are user input
// errors, not system faults: they are rendered back to the requester and
// never logged.
type Fault struct {
	Kind    FaultKind
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("command: %s: %s", f.Kind, f.Message)
}

// UserText returns the short message shown to the requester.
func (f *Fault) UserText() string {
	return f.Message
}

func badFormat(format string, args ...interface{}) *Fault {
	return &Fault{Kind: BadFormat, Message: fmt.Sprintf(format, args...)}
}

// maxEchoedToken bounds how much of an unresolvable language token is echoed
// back, so oversized junk tokens cannot be reflected into chat.
const maxEchoedToken = 50

func unsupportedLanguage(token string) *Fault {
	if len(token) > maxEchoedToken {
		token = token[:maxEchoedToken] + "..."
	}
	return &Fault{
		Kind:    UnsupportedLanguage,
		Message: fmt.Sprintf("Unsupported language: `%s`", token),
	}
}
