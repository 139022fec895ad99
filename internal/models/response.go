package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Error kinds recorded on a ResponseRecord.
const (
	ErrorKindHTTPStatus       = "http_status"
	ErrorKindTooManyRedirects = "too_many_redirects"
	ErrorKindTransportErrno   = "transport_errno"
	ErrorKindUnparseableURI   = "unparseable_uri"
	ErrorKindUnknown          = "unknown"
)

// Reasons a target could not be checked.
const (
	ReasonCloudflare         = "cloudflare"
	ReasonTooManyRequests    = "429:too-many-requests"
	ReasonServiceUnavailable = "503:service-unavailable"
)

// legacyErrorKinds maps error type tags written by older versions onto current ones.
var legacyErrorKinds = map[string]string{
	"httpStatusCode":   ErrorKindHTTPStatus,
	"libcurlErrno":     ErrorKindTransportErrno,
	"tooManyRedirects": ErrorKindTooManyRedirects,
	"unableToParseUri": ErrorKindUnparseableURI,
	"exception":        ErrorKindUnknown,
}

// Redirect is one hop of a redirect chain.
type Redirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ResponseRecord is the result of checking one link target.
type ResponseRecord struct {
	Status            Status
	LastChecked       time.Time
	ErrorKind         string
	ErrorCode         int
	ExceptionDetail   string
	HumanMessage      string
	CannotCheckReason string
	Redirects         []Redirect
	FinalURL          string
	Custom            map[string]any
}

// NewOKRecord returns a successful result checked at the given time.
func NewOKRecord(checkedAt time.Time) *ResponseRecord {
	return &ResponseRecord{Status: StatusOK, LastChecked: unixTime(checkedAt)}
}

// NewExcludedRecord returns a result for a target matched by an exclusion rule.
func NewExcludedRecord(checkedAt time.Time) *ResponseRecord {
	return &ResponseRecord{Status: StatusExcluded, LastChecked: unixTime(checkedAt)}
}

// NewErrorRecord returns a broken result with the human message derived from the error.
func NewErrorRecord(kind string, code int, detail string, checkedAt time.Time) *ResponseRecord {
	return &ResponseRecord{
		Status:          StatusBroken,
		LastChecked:     unixTime(checkedAt),
		ErrorKind:       kind,
		ErrorCode:       code,
		ExceptionDetail: detail,
		HumanMessage:    DescribeError(kind, code, detail),
	}
}

// IsError reports whether the target is confirmed broken.
func (r *ResponseRecord) IsError() bool {
	return r != nil && r.Status == StatusBroken
}

// SetError records error details and recomputes the human message
// without touching the status.
func (r *ResponseRecord) SetError(kind string, code int, detail string) {
	r.ErrorKind = kind
	r.ErrorCode = code
	r.ExceptionDetail = detail
	r.HumanMessage = DescribeError(kind, code, detail)
}

// EffectiveURL returns the final URL after redirects, falling back to the
// last redirect target and finally to an empty string.
func (r *ResponseRecord) EffectiveURL() string {
	if r == nil {
		return ""
	}
	if r.FinalURL != "" {
		return r.FinalURL
	}
	if n := len(r.Redirects); n > 0 {
		return r.Redirects[n-1].To
	}
	return ""
}

// CombinedError returns "kind:code", optionally followed by ":detail".
func (r *ResponseRecord) CombinedError(withDetail bool) string {
	s := r.ErrorKind + ":" + strconv.Itoa(r.ErrorCode)
	if withDetail && r.ExceptionDetail != "" {
		s += ":" + r.ExceptionDetail
	}
	return s
}

// Message returns the stored human message, or derives one from the error fields.
func (r *ResponseRecord) Message() string {
	if r.HumanMessage != "" {
		return r.HumanMessage
	}
	if r.ErrorKind == "" {
		return ""
	}
	return DescribeError(r.ErrorKind, r.ErrorCode, r.ExceptionDetail)
}

// DescribeError builds the message shown in reports. The raw detail is only
// appended for transport and unknown failures, where the kind alone says little.
func DescribeError(kind string, code int, detail string) string {
	switch kind {
	case ErrorKindHTTPStatus:
		return fmt.Sprintf("HTTP status: %d", code)
	case ErrorKindTooManyRedirects:
		return "Too many redirects"
	case ErrorKindUnparseableURI:
		return "Invalid URL"
	case ErrorKindTransportErrno:
		if detail != "" {
			return fmt.Sprintf("Network error %d: %s", code, detail)
		}
		return fmt.Sprintf("Network error %d", code)
	case "":
		return ""
	default:
		if detail != "" {
			return "Unknown error: " + detail
		}
		return "Unknown error"
	}
}

type responseJSON struct {
	Status            Status         `json:"status"`
	LastChecked       int64          `json:"lastChecked"`
	Custom            map[string]any `json:"custom"`
	ErrorType         string         `json:"errorType"`
	Errno             int            `json:"errno"`
	ExceptionMessage  string         `json:"exceptionMessage"`
	Message           string         `json:"message"`
	ReasonCannotCheck string         `json:"reasonCannotCheck"`
	Redirects         []Redirect     `json:"redirects"`
	EffectiveURL      string         `json:"effectiveUrl"`

	// Pre-status format.
	Valid       *bool              `json:"valid,omitempty"`
	ErrorParams *legacyErrorParams `json:"errorParams,omitempty"`
}

type legacyErrorParams struct {
	Errno        any            `json:"errno"`
	ErrorType    string         `json:"errorType"`
	Message      string         `json:"message"`
	ExceptionMsg string         `json:"exceptionMsg"`
	Custom       map[string]any `json:"custom"`
}

// MarshalJSON writes the stable persisted shape.
func (r ResponseRecord) MarshalJSON() ([]byte, error) {
	var lastChecked int64
	if !r.LastChecked.IsZero() {
		lastChecked = r.LastChecked.Unix()
	}
	return json.Marshal(responseJSON{
		Status:            r.Status,
		LastChecked:       lastChecked,
		Custom:            r.Custom,
		ErrorType:         r.ErrorKind,
		Errno:             r.ErrorCode,
		ExceptionMessage:  r.ExceptionDetail,
		Message:           r.HumanMessage,
		ReasonCannotCheck: r.CannotCheckReason,
		Redirects:         r.Redirects,
		EffectiveURL:      r.FinalURL,
	})
}

// UnmarshalJSON reads both the current shape and the legacy
// {valid, errorParams} shape.
func (r *ResponseRecord) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = ResponseRecord{
		Status:            raw.Status,
		Custom:            raw.Custom,
		ErrorKind:         normalizeErrorKind(raw.ErrorType),
		ErrorCode:         raw.Errno,
		ExceptionDetail:   raw.ExceptionMessage,
		HumanMessage:      raw.Message,
		CannotCheckReason: raw.ReasonCannotCheck,
		Redirects:         raw.Redirects,
		FinalURL:          raw.EffectiveURL,
	}
	if raw.LastChecked != 0 {
		r.LastChecked = time.Unix(raw.LastChecked, 0)
	}

	if raw.Valid != nil {
		if *raw.Valid {
			r.Status = StatusOK
		} else {
			r.Status = StatusBroken
		}
		if p := raw.ErrorParams; p != nil {
			r.ErrorKind = normalizeErrorKind(p.ErrorType)
			r.ErrorCode = legacyErrno(p.Errno)
			r.HumanMessage = p.Message
			r.ExceptionDetail = p.ExceptionMsg
			if p.Custom != nil {
				r.Custom = p.Custom
			}
		}
	}

	if !r.Status.Valid() {
		r.Status = StatusUnknown
	}
	return nil
}

// ParseResponseRecord decodes a persisted blob. An empty blob is an error.
func ParseResponseRecord(data []byte) (*ResponseRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response record")
	}
	var r ResponseRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode response record: %w", err)
	}
	return &r, nil
}

func normalizeErrorKind(kind string) string {
	if mapped, ok := legacyErrorKinds[kind]; ok {
		return mapped
	}
	return kind
}

func legacyErrno(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

func unixTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0)
}
