package kraken

import (
	"errors"
	"strconv"
	"strings"

	"trade-adapter/internal/core"
)

const unknownAssetPair = "EQuery:Unknown asset pair"

type APIError struct {
	Status   int
	Messages []string
}

func (e APIError) Error() string {
	msg := "kraken api error"
	if e.Status != 0 {
		msg += " " + strconv.Itoa(e.Status)
	}
	return msg + ": " + strings.Join(e.Messages, "; ")
}

// classifyAPIError marks the unknown pair response as fatal only when it is
// the sole error reported; any combination stays an ordinary API error.
func classifyAPIError(apiErr APIError) error {
	if len(apiErr.Messages) == 1 && apiErr.Messages[0] == unknownAssetPair {
		return errors.Join(apiErr, core.ErrUnknownAssetPair)
	}
	return apiErr
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
