package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linmx0130/nah/internal/errs"
)

// modelServer answers /v1/chat/completions with the given events.
func modelServer(t *testing.T, events []string, inspect func(*http.Request, map[string]any)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		if inspect != nil {
			inspect(r, decoded)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func chunk(delta string) string {
	return `{"id":"c","object":"chat.completion.chunk","choices":[{"index":0,"delta":` + delta + `}]}`
}

func collect(t *testing.T, c *Client, req Request) (Message, error) {
	t.Helper()
	var m Message
	err := c.Stream(context.Background(), req, m.Apply)
	m.Finalize()
	return m, err
}

func TestClientStream(t *testing.T) {
	events := []string{
		chunk(`{"role":"assistant","content":""}`),
		chunk(`{"content":"Hel"}`),
		`not json`,
		`{"choices":[]}`,
		chunk(`{"content":"lo"}`),
		"[DONE]",
		chunk(`{"content":" ignored"}`),
	}
	var body map[string]any
	var authHeader string
	ts := modelServer(t, events, func(r *http.Request, b map[string]any) {
		body = b
		authHeader = r.Header.Get("Authorization")
	})

	c := NewClient(ClientConfig{
		BaseURL:   ts.URL + "/v1/",
		Model:     "test-model",
		AuthToken: "sk-test",
		Params:    map[string]any{"temperature": 0.1, "seed": 7},
	})
	m, err := collect(t, c, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello", m.Content)
	assert.Equal(t, RoleAssistant, m.Role)

	assert.Equal(t, "Bearer sk-test", authHeader)
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.EqualValues(t, 1, body["n"])
	assert.EqualValues(t, 4096, body["max_tokens"])
	assert.EqualValues(t, 0.1, body["temperature"])
	assert.EqualValues(t, 0.9, body["top_p"])
	assert.EqualValues(t, 7, body["seed"])
	assert.NotContains(t, body, "tools")
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestClientSendsTools(t *testing.T) {
	var body map[string]any
	ts := modelServer(t, []string{"[DONE]"}, func(_ *http.Request, b map[string]any) { body = b })
	c := NewClient(ClientConfig{BaseURL: ts.URL + "/v1", Model: "m"})

	tools := []Tool{{Type: "function", Function: FunctionSpec{Name: "a.b", Parameters: json.RawMessage(`{"type":"object"}`)}}}
	_, err := collect(t, c, Request{Tools: tools})
	require.NoError(t, err)

	list, ok := body["tools"].([]any)
	require.True(t, ok, "tools = %v", body["tools"])
	require.Len(t, list, 1)
	fn := list[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "a.b", fn["name"])
	assert.Equal(t, false, fn["strict"])
}

func TestClientHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ClientConfig{BaseURL: ts.URL, Model: "m"})
	_, err := collect(t, c, Request{})
	require.Error(t, err)
	assert.Equal(t, errs.ModelServerError, errs.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "503") && strings.Contains(err.Error(), "model overloaded"), err.Error())
}

func TestClientStreamEndsEarly(t *testing.T) {
	ts := modelServer(t, []string{chunk(`{"content":"partial"}`)}, nil)
	c := NewClient(ClientConfig{BaseURL: ts.URL + "/v1", Model: "m"})
	_, err := collect(t, c, Request{})
	assert.Equal(t, errs.CommunicationError, errs.KindOf(err))
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(ClientConfig{BaseURL: url, Model: "m"})
	_, err := collect(t, c, Request{})
	assert.Equal(t, errs.CommunicationError, errs.KindOf(err))
}

func TestClientStreamLargeChunk(t *testing.T) {
	big := strings.Repeat("y", 300<<10)
	ts := modelServer(t, []string{chunk(`{"role":"assistant","content":"` + big + `"}`), "[DONE]"}, nil)
	c := NewClient(ClientConfig{BaseURL: ts.URL + "/v1", Model: "m"})

	m, err := collect(t, c, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Len(t, m.Content, len(big))
}
