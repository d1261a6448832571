package api

import (
	"bytes"
	"encoding/json"
)

// Status is the normalised outcome of every backend call.
type Status string

const (
	StatusOK       Status = "OK"
	StatusNeedPass Status = "NEED-PASS"
	StatusRetry    Status = "RETRY"
	StatusErr      Status = "ERR"
)

// Result is a normalised backend response. Data is set for OK, Pass for
// NEED-PASS, TaskID for RETRY and Message for ERR.
type Result[T any] struct {
	Status  Status
	Message string
	Data    T
	Pass    *PassInfo
	TaskID  string
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Status == StatusOK }

// Success builds an OK result.
func Success[T any](data T) Result[T] {
	return Result[T]{Status: StatusOK, Data: data}
}

// Failure builds an ERR result.
func Failure[T any](msg string) Result[T] {
	return Result[T]{Status: StatusErr, Message: msg}
}

// NeedPass builds a NEED-PASS result.
func NeedPass[T any](pass PassInfo) Result[T] {
	return Result[T]{Status: StatusNeedPass, Pass: &pass}
}

// Retry builds a RETRY result.
func Retry[T any](taskID string) Result[T] {
	return Result[T]{Status: StatusRetry, TaskID: taskID}
}

// MsgAborted is the ERR message of a call the caller cancelled.
const MsgAborted = "The user aborted a request."

// Wire-level error markers.
const (
	MarkerNeedPass = "NEED-PASS"
	MarkerRetry    = "RETRY"
)

// Envelope is the JSON body exchanged with the server.
type Envelope struct {
	Data     any       `json:"data,omitempty"`
	Error    string    `json:"error,omitempty"`
	PassInfo *PassInfo `json:"pass_info,omitempty"`
}

// DataEnvelope wraps a successful payload.
func DataEnvelope(data any) Envelope { return Envelope{Data: data} }

// ErrorEnvelope wraps an error message.
func ErrorEnvelope(msg string) Envelope { return Envelope{Error: msg} }

// NeedPassEnvelope asks the client for the password of a connection.
func NeedPassEnvelope(dbid, user string) Envelope {
	return Envelope{Error: MarkerNeedPass, PassInfo: &PassInfo{DBID: dbid, User: user}}
}

// RetryEnvelope tells the client to poll taskID.
func RetryEnvelope(taskID string) Envelope {
	return Envelope{Error: MarkerRetry, Data: taskID}
}

type rawEnvelope struct {
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	PassInfo *PassInfo       `json:"pass_info"`
}

// Decode normalises a response body into a Result. An empty body is OK
// with zero data; anything that is not a JSON envelope is ERR.
func Decode[T any](body []byte) Result[T] {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Result[T]{Status: StatusOK}
	}

	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Failure[T]("malformed response: " + err.Error())
	}

	switch env.Error {
	case "":
	case MarkerNeedPass:
		pass := PassInfo{}
		if env.PassInfo != nil {
			pass = *env.PassInfo
		}
		return NeedPass[T](pass)
	case MarkerRetry:
		var taskID Text
		if len(env.Data) > 0 {
			if err := taskID.UnmarshalJSON(env.Data); err != nil {
				return Failure[T]("malformed task id: " + err.Error())
			}
		}
		return Retry[T](string(taskID))
	default:
		return Failure[T](env.Error)
	}

	res := Result[T]{Status: StatusOK}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return res
	}
	if err := json.Unmarshal(env.Data, &res.Data); err != nil {
		// non-row statements answer {"data": {}}; anything else is a mismatch
		if bytes.Equal(bytes.TrimSpace(env.Data), []byte("{}")) {
			return res
		}
		return Failure[T]("malformed response: " + err.Error())
	}
	return res
}
