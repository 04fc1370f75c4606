package httpx

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// FromOpenAI converts go-openai status failures into *StatusError so they are
// classified like every other upstream.
func FromOpenAI(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{
			Service:    service,
			Operation:  operation,
			StatusCode: apiErr.HTTPStatusCode,
			Status:     http.StatusText(apiErr.HTTPStatusCode),
			Body:       apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{
			Service:    service,
			Operation:  operation,
			StatusCode: reqErr.HTTPStatusCode,
			Status:     http.StatusText(reqErr.HTTPStatusCode),
			Body:       reqErr.Error(),
		}
	}
	return err
}
