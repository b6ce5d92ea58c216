package trigger_test

import (
	"testing"

	"github.com/dukex/flowline/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		request *trigger.Request
		check   func(t *testing.T, header, query map[string]any, body map[string]any)
		wantErr bool
	}{
		{
			name: "json body with lower-cased headers",
			request: &trigger.Request{
				ContentType: "application/json; charset=utf-8",
				Headers:     map[string][]string{"X-Event": {"push"}},
				Body:        []byte(`{"ref":"refs/heads/main","commits":[{"id":"c1"}]}`),
			},
			check: func(t *testing.T, header, _ map[string]any, body map[string]any) {
				assert.Equal(t, "push", header["x-event"])

				document, ok := body["json"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "refs/heads/main", document["ref"])
			},
		},
		{
			name: "repeated keys become arrays",
			request: &trigger.Request{
				ContentType: "text/plain",
				Headers:     map[string][]string{"X-Tag": {"a"}, "x-tag": {"b"}},
				Query:       map[string][]string{"tag": {"v1", "v2"}, "null": {"dropped"}},
				Body:        []byte("hello"),
			},
			check: func(t *testing.T, header, query map[string]any, body map[string]any) {
				assert.ElementsMatch(t, []any{"a", "b"}, header["x-tag"])
				assert.Equal(t, []any{"v1", "v2"}, query["tag"])
				assert.NotContains(t, query, "null")
				assert.Equal(t, "hello", body["text"])
			},
		},
		{
			name: "form body",
			request: &trigger.Request{
				ContentType: "application/x-www-form-urlencoded",
				Body:        []byte("name=flowline&stage=build&stage=test"),
			},
			check: func(t *testing.T, _, _ map[string]any, body map[string]any) {
				form, ok := body["form"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "flowline", form["name"])
				assert.Equal(t, []any{"build", "test"}, form["stage"])
			},
		},
		{
			name:    "empty json body",
			request: &trigger.Request{ContentType: "application/json"},
			check: func(t *testing.T, _, _ map[string]any, body map[string]any) {
				assert.Empty(t, body)
			},
		},
		{
			name:    "invalid json",
			request: &trigger.Request{ContentType: "application/json", Body: []byte("{")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := trigger.Normalize(tt.request)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			document := payload.Document()
			tt.check(t, payload.Header, payload.Query, document["body"].(map[string]any))
		})
	}
}
