package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodePlayerNotFound       Code = "player_not_found"
	CodeClanNotFound         Code = "clan_not_found"
	CodeRequest              Code = "request_error"
	CodeInvalidAccessToken   Code = "invalid_access_token"
	CodeInvalidIPAddress     Code = "invalid_ip_address"
	CodeRequestLimitExceeded Code = "request_limit_exceeded"
	CodeApplicationBlocked   Code = "application_blocked"
	CodeSourceUnavailable    Code = "source_unavailable"
	CodeRedirect             Code = "redirect"
	CodeServerUnavailable    Code = "server_temporarily_unavailable"
	CodeServer               Code = "server_error"
	CodeNoUpdatePlayer       Code = "no_update_player"
	CodeNoUpdateClan         Code = "no_update_clan"
	CodeNoUpdateTank         Code = "no_update_tank"
	CodePlayerNotTracked     Code = "player_not_tracked"
	CodeClanNotTracked       Code = "clan_not_tracked"
	CodePeriodNotTracked     Code = "period_not_tracked"
	CodeInvalidArgument      Code = "invalid_argument"
)

// Family sentinels. errors.Is(err, ErrRequest) holds for every upstream
// request failure, including the specific classifications below it.
var (
	ErrNotFound             = errors.New("not found")
	ErrRequest              = errors.New("request error")
	ErrNoUpdate             = errors.New("no update")
	ErrNotFoundInLocalStore = errors.New("not found in local store")
	ErrServer               = errors.New("server error")
)

var (
	ErrInvalidAccessToken   = &Error{Code: CodeInvalidAccessToken, Message: "invalid access token"}
	ErrInvalidIPAddress     = &Error{Code: CodeInvalidIPAddress, Message: "invalid ip address"}
	ErrRequestLimitExceeded = &Error{Code: CodeRequestLimitExceeded, Message: "request limit exceeded"}
	ErrApplicationBlocked   = &Error{Code: CodeApplicationBlocked, Message: "application is blocked"}
	ErrSourceUnavailable    = &Error{Code: CodeSourceUnavailable, Message: "source not available"}
	ErrServerUnavailable    = &Error{Code: CodeServerUnavailable, Message: "api server is temporarily unavailable"}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
)

var defaultMessages = map[Code]string{
	CodePlayerNotFound:       "player not found",
	CodeClanNotFound:         "clan not found",
	CodeRequest:              "request error",
	CodeInvalidAccessToken:   "invalid access token",
	CodeInvalidIPAddress:     "invalid ip address",
	CodeRequestLimitExceeded: "request limit exceeded",
	CodeApplicationBlocked:   "application is blocked",
	CodeSourceUnavailable:    "source not available",
	CodeRedirect:             "unexpected redirect",
	CodeServerUnavailable:    "api server is temporarily unavailable",
	CodeServer:               "api server error",
	CodeNoUpdatePlayer:       "failed to update player",
	CodeNoUpdateClan:         "failed to update clan",
	CodeNoUpdateTank:         "failed to update tanks",
	CodePlayerNotTracked:     "player is not tracked",
	CodeClanNotTracked:       "clan is not tracked",
	CodePeriodNotTracked:     "player is not tracked for that long",
	CodeInvalidArgument:      "invalid argument",
}

// Arg is an identifying argument attached to an error for diagnostics.
type Arg struct {
	Key   string
	Value any
}

func A(key string, value any) Arg {
	return Arg{Key: key, Value: value}
}

type Error struct {
	Code    Code
	Message string
	// Value is the offending value reported by upstream, if any.
	Value string
	Args  []Arg
}

func NewError(code Code, message string, args ...Arg) *Error {
	if message == "" {
		message = defaultMessages[code]
	}
	return &Error{Code: code, Message: message, Args: args}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Value != "" {
		fmt.Fprintf(&b, " (value=%s)", e.Value)
	}

	var parts []string
	for _, a := range e.Args {
		if isEmptyArg(a.Value) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	if len(parts) > 0 {
		b.WriteString(" with args ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code
	}
	switch target {
	case ErrNotFound:
		return e.Code == CodePlayerNotFound || e.Code == CodeClanNotFound
	case ErrRequest:
		return e.isRequest()
	case ErrNoUpdate:
		return e.Code == CodeNoUpdatePlayer || e.Code == CodeNoUpdateClan || e.Code == CodeNoUpdateTank
	case ErrNotFoundInLocalStore:
		return e.Code == CodePlayerNotTracked || e.Code == CodeClanNotTracked || e.Code == CodePeriodNotTracked
	case ErrServer:
		return e.Code == CodeServer || e.Code == CodeServerUnavailable || e.Code == CodeRedirect
	}
	return false
}

func (e *Error) isRequest() bool {
	switch e.Code {
	case CodeRequest, CodeInvalidAccessToken, CodeInvalidIPAddress,
		CodeRequestLimitExceeded, CodeApplicationBlocked, CodeSourceUnavailable:
		return true
	}
	return false
}

// With returns a copy of e carrying additional identifying args.
func (e *Error) With(args ...Arg) *Error {
	cp := *e
	cp.Args = append(append([]Arg(nil), e.Args...), args...)
	return &cp
}

// CodeOf extracts the taxonomy code of err, or "" if err is not classified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isEmptyArg(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int64:
		return x == 0
	case int:
		return x == 0
	}
	return false
}
