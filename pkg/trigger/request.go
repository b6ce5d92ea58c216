package trigger

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dukex/flowline/pkg/models"
)

// Request is an inbound webhook call, independent of the HTTP framework.
type Request struct {
	ContentType string
	UserAgent   string
	Headers     map[string][]string
	Query       map[string][]string
	Body        []byte
}

// Normalize builds the {header, query, body} document that extraction paths run against.
// Header names are lower-cased; keys given more than once become arrays.
func Normalize(request *Request) (*models.Payload, error) {
	payload := &models.Payload{
		Header: make(map[string]any, len(request.Headers)),
		Query:  make(map[string]any, len(request.Query)),
	}

	for name, values := range request.Headers {
		name = strings.ToLower(name)
		if existing, ok := payload.Header[name]; ok {
			values = append(toStrings(existing), values...)
		}

		setValues(payload.Header, name, values)
	}

	for name, values := range request.Query {
		if name == "null" {
			continue
		}

		setValues(payload.Query, name, values)
	}

	contentType := strings.ToLower(strings.TrimSpace(request.ContentType))

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		if len(strings.TrimSpace(string(request.Body))) == 0 {
			break
		}

		var document any

		err := json.Unmarshal(request.Body, &document)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}

		payload.Body.JSON = document
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		form, err := url.ParseQuery(string(request.Body))
		if err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}

		payload.Body.Form = make(map[string]any, len(form))
		for name, values := range form {
			setValues(payload.Body.Form, name, values)
		}
	case strings.HasPrefix(contentType, "text/plain"):
		payload.Body.Text = string(request.Body)
	}

	return payload, nil
}

func setValues(target map[string]any, name string, values []string) {
	switch len(values) {
	case 0:
		target[name] = ""
	case 1:
		target[name] = values[0]
	default:
		items := make([]any, len(values))
		for i, v := range values {
			items[i] = v
		}

		target[name] = items
	}
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}

		return out
	default:
		return nil
	}
}
