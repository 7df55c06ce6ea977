package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/souq-assistant/internal/domain"
)

// DefaultTimeout bounds a single field-parsing call, fallback included.
const DefaultTimeout = 8 * time.Second

const maxMessageRunes = 1000

const fieldsSystemPrompt = `You extract classified-ad fields from a user's message in Arabic or English.
Reply with ONE JSON object and nothing else. Allowed keys:
title, description, city, district, category, price, currency, phone, images, lat, lng.
Only include a key when the message states its value. Never invent values.
currency is one of YER, USD, SAR. price is a number. category is one of the listed slugs.
images is an array of image URLs. lat and lng are numbers.`

// Text is a JSON value the model may send as a string or a number.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*t = Text(n.String())
	return nil
}

// RawFields is the model's untrusted answer. Every value must be
// revalidated before it reaches a draft.
type RawFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	City        string   `json:"city"`
	District    string   `json:"district"`
	Category    string   `json:"category"`
	Price       Text     `json:"price"`
	Currency    string   `json:"currency"`
	Phone       Text     `json:"phone"`
	Images      []string `json:"images"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

// FieldParser asks a Provider to read listing fields out of a message.
type FieldParser struct {
	provider   Provider
	timeout    time.Duration
	categories []string
}

// NewFieldParser creates a parser. categories lists the slugs the model may
// answer with.
func NewFieldParser(p Provider, timeout time.Duration, categories []string) *FieldParser {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FieldParser{provider: p, timeout: timeout, categories: categories}
}

// Name returns the underlying provider name.
func (fp *FieldParser) Name() string {
	return fp.provider.Name()
}

type completion struct {
	out string
	err error
}

// ParseFields sends the draft and message to the model and decodes its
// JSON answer. The call is abandoned when the timeout elapses even if the
// provider ignores cancellation.
func (fp *FieldParser) ParseFields(ctx context.Context, draft *domain.Draft, message string) (*RawFields, error) {
	ctx, cancel := context.WithTimeout(ctx, fp.timeout)
	defer cancel()

	prompt, err := fp.buildPrompt(draft, message)
	if err != nil {
		return nil, err
	}

	done := make(chan completion, 1)
	go func() {
		out, err := fp.provider.Complete(ctx, prompt, CompletionOpts{
			Temperature: 0,
			MaxTokens:   512,
			Format:      "json",
			System:      fieldsSystemPrompt,
		})
		done <- completion{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", fp.provider.Name(), ctx.Err())
	case c := <-done:
		if c.err != nil {
			return nil, fmt.Errorf("%s: %w", fp.provider.Name(), c.err)
		}
		return DecodeFields(c.out)
	}
}

func (fp *FieldParser) buildPrompt(draft *domain.Draft, message string) (string, error) {
	current := domain.Fields{}
	step := domain.StepTitle
	if draft != nil {
		step = draft.Step
		current = domain.Fields{
			Title:       draft.Title,
			Description: draft.Description,
			City:        draft.City,
			District:    draft.District,
			Category:    draft.Category,
			Price:       draft.Price,
			Currency:    draft.Currency,
			Phone:       draft.Phone,
		}
	}
	draftJSON, err := json.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("encode draft for prompt: %w", err)
	}

	if r := []rune(message); len(r) > maxMessageRunes {
		message = string(r[:maxMessageRunes])
	}

	var sb strings.Builder
	sb.WriteString("CATEGORIES: ")
	sb.WriteString(strings.Join(fp.categories, ", "))
	sb.WriteString("\nCURRENT DRAFT: ")
	sb.Write(draftJSON)
	sb.WriteString("\nFIELD BEING ASKED: ")
	sb.WriteString(string(step))
	sb.WriteString("\nMESSAGE:\n---\n")
	sb.WriteString(message)
	sb.WriteString("\n---\n")
	return sb.String(), nil
}

// DecodeFields parses a model reply, tolerating markdown code fences.
func DecodeFields(raw string) (*RawFields, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		start, end := 0, len(lines)
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if start == 0 {
					start = i + 1
				} else {
					end = i
					break
				}
			}
		}
		if start > 0 && end > start {
			cleaned = strings.Join(lines[start:end], "\n")
		}
	}
	cleaned = strings.TrimSpace(cleaned)

	var f RawFields
	if err := json.Unmarshal([]byte(cleaned), &f); err != nil {
		return nil, fmt.Errorf("invalid JSON from LLM: %w (raw response: %s)", err, truncate(raw, 200))
	}
	return &f, nil
}
