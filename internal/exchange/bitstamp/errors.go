package bitstamp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"trade-adapter/internal/core"
)

const nonceErrorMessage = "invalid nonce"

type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e APIError) Error() string {
	msg := "bitstamp api error"
	if e.Status != 0 {
		msg += " " + strconv.Itoa(e.Status)
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg + ": " + e.Msg
}

func classifyAPIError(apiErr APIError) error {
	if normalizeAPIErrorMsg(apiErr.Msg) == nonceErrorMessage {
		return errors.Join(apiErr, core.ErrInvalidNonce)
	}
	return apiErr
}

func normalizeAPIErrorMsg(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

// bodyError reports the API error carried by a response body, or nil when
// the body is success-shaped.
func bodyError(status int, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil {
		return nil
	}
	if len(eb.Error) > 0 && !bytes.Equal(eb.Error, []byte("null")) {
		return classifyAPIError(APIError{Status: status, Code: eb.Code, Msg: rawMessageText(eb.Error)})
	}
	if strings.EqualFold(eb.Status, "error") {
		return classifyAPIError(APIError{Status: status, Code: eb.Code, Msg: rawMessageText(eb.Reason)})
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	if err := bodyError(status, body); err != nil {
		return err
	}
	return fmt.Errorf("bitstamp http error %d: %s", status, strings.TrimSpace(string(body)))
}

// rawMessageText flattens a string, list or field->list reason into one line.
func rawMessageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var fields map[string][]string
	if err := json.Unmarshal(raw, &fields); err == nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strings.Join(fields[k], "; "))
		}
		return strings.Join(parts, "; ")
	}
	return strings.TrimSpace(string(raw))
}

func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
