package openai

import "encoding/json"

// ChatRequest is the chat completion request sent upstream. Messages is kept
// as raw JSON so the caller's conversation history passes through untouched.
type ChatRequest struct {
	Model        string          `json:"model"`
	Messages     json.RawMessage `json:"messages"`
	Functions    []FunctionDef   `json:"functions,omitempty"`
	FunctionCall string          `json:"function_call,omitempty"`
}

// FunctionDef declares a callable function offered to the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FunctionCall is the model's structured request to invoke a function.
// Arguments is a JSON-encoded string produced by the model; it may be
// malformed and must be validated by the caller.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResult carries the upstream response verbatim. The orchestrator relays
// Body and StatusCode to its own caller, so both are preserved regardless of
// whether the upstream call succeeded.
type ChatResult struct {
	StatusCode int
	Body       json.RawMessage
}

// OK reports whether the upstream returned a 2xx status.
func (r *ChatResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ChoiceMessage is the typed view of choices[0].message used to inspect the
// model's decision. Raw holds the original JSON so the message can be appended
// to a transcript without re-encoding losses.
type ChoiceMessage struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type chatResponse struct {
	Choices []struct {
		Message json.RawMessage `json:"message"`
	} `json:"choices"`
}

// FirstMessage extracts choices[0].message from a chat completion body.
// The second return value is false when the body has no usable choice.
func FirstMessage(body []byte) (ChoiceMessage, bool) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChoiceMessage{}, false
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message) == 0 {
		return ChoiceMessage{}, false
	}
	raw := resp.Choices[0].Message
	var msg ChoiceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ChoiceMessage{}, false
	}
	msg.Raw = raw
	return msg, true
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}
