package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/xeipuuv/gojsonschema"
)

// ErrCorruptFragment is returned when stored JSON does not describe a fragment.
var ErrCorruptFragment = errors.New("corrupt fragment")

const messagesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["role", "content", "timestamp"],
		"properties": {
			"role": {"enum": ["system", "user", "assistant", "function"]},
			"author": {"type": "string"},
			"content": {"type": "string"},
			"timestamp": {"type": "string"}
		}
	}
}`

const fragmentSchema = `{
	"type": "object",
	"required": ["total_tokens", "messages"],
	"properties": {
		"instance": {"type": "integer", "minimum": 0},
		"total_tokens": {"type": "integer", "minimum": 0},
		"messages": ` + messagesSchema + `
	}
}`

var (
	schemaOnce        sync.Once
	messagesValidator *gojsonschema.Schema
	fragmentValidator *gojsonschema.Schema
	schemaErr         error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		messagesValidator, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(messagesSchema))
		if schemaErr != nil {
			return
		}
		fragmentValidator, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(fragmentSchema))
	})
	return schemaErr
}

func validate(schema *gojsonschema.Schema, data string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptFragment, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrCorruptFragment, strings.Join(problems, "; "))
	}
	return nil
}

func encodeMessages(msgs []ports.Message) (string, error) {
	if msgs == nil {
		msgs = []ports.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal messages: %w", err)
	}
	return string(data), nil
}

func decodeMessages(data string) ([]ports.Message, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	if err := validate(messagesValidator, data); err != nil {
		return nil, err
	}

	var msgs []ports.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return msgs, nil
}

func jsonMarshal(f *ports.Fragment) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fragment: %w", err)
	}
	return string(data), nil
}

func jsonUnmarshal(data string, f *ports.Fragment) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	if err := validate(fragmentValidator, data); err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(data), f); err != nil {
		return fmt.Errorf("failed to unmarshal fragment: %w", err)
	}
	return nil
}
