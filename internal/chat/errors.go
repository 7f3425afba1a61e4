package chat

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotAuthenticated Code = "NOT_AUTHENTICATED"
	CodeNotAuthorized    Code = "NOT_AUTHORIZED"
	CodeTargetNotFound   Code = "TARGET_NOT_FOUND"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeInternal         Code = "INTERNAL"
)

// Rejection is the typed failure returned for anything the client caused or
// is not allowed to do. It is reported to the originating connection only.
type Rejection struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func reject(code Code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

var errInternal = &Rejection{Code: CodeInternal, Message: "internal error"}

// AsRejection maps any error to the rejection a client may see.
// Unknown errors become a detail-free INTERNAL.
func AsRejection(err error) *Rejection {
	if err == nil {
		return nil
	}
	var r *Rejection
	if errors.As(err, &r) {
		return r
	}
	return errInternal
}
