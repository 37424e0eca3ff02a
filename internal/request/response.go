package request

import "fmt"

// ResponseKind tags a response variant.
type ResponseKind string

const (
	ResponseRegister    ResponseKind = "REGISTER"
	ResponsePostMessage ResponseKind = "POST_MESSAGE"
	ResponseError       ResponseKind = "ERROR"
)

// Response codes for failures that never reached the server. Codes from the
// server are its HTTP status codes.
const (
	CodeTransport   = 0  // no HTTP response: connection error, timeout
	CodeLocalStore  = -1 // the local store rejected a write
	CodeUnsupported = -2 // unknown request variant
	CodeInvalid     = -3 // request failed validation before sending
)

// Response is the outcome of a request. The set of implementations is
// closed: *RegisterResponse, *PostMessageResponse and *ErrorResponse.
type Response interface {
	Kind() ResponseKind
	sealedResponse()
}

// RegisterResponse reports a successful registration.
type RegisterResponse struct{}

func (*RegisterResponse) Kind() ResponseKind { return ResponseRegister }
func (*RegisterResponse) sealedResponse()    {}

// PostMessageResponse reports an accepted message and its sequence number.
type PostMessageResponse struct {
	MessageID int64
}

func (*PostMessageResponse) Kind() ResponseKind { return ResponsePostMessage }
func (*PostMessageResponse) sealedResponse()    {}

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	ResponseCode    int
	ResponseMessage string
	ErrorMessage    string
}

func (*ErrorResponse) Kind() ResponseKind { return ResponseError }
func (*ErrorResponse) sealedResponse()    {}

func (e *ErrorResponse) String() string {
	if e.ErrorMessage == "" {
		return fmt.Sprintf("%s (%d)", e.ResponseMessage, e.ResponseCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.ResponseMessage, e.ResponseCode, e.ErrorMessage)
}

// Succeeded reports whether resp is the success variant req expects.
func Succeeded(req Request, resp Response) bool {
	return resp != nil && resp.Kind() == req.Expects()
}
