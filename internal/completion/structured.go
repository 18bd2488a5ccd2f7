package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Structured runs req (which must carry a Schema) and decodes the response into
// out. Vendor failures come back as *types.ProviderError; responses that are not
// JSON, or that fail out's validate tags, as *types.SchemaValidationError.
func Structured(ctx context.Context, p types.CompletionProvider, req types.CompletionRequest, out any) error {
	if req.Schema == nil {
		return fmt.Errorf("structured completion requires a schema")
	}

	raw, err := p.Complete(ctx, req)
	if err != nil {
		return types.NewProviderError("completion", "complete", err)
	}

	text := ExtractJSON(raw)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		logging.APIWarn("Structured %s: undecodable response (%d bytes): %v", req.Schema.Name, len(raw), err)
		return &types.SchemaValidationError{Schema: req.Schema.Name, Raw: raw, Err: err}
	}

	if err := validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// out is not a struct; nothing to check beyond decoding.
			return nil
		}
		logging.APIWarn("Structured %s: validation failed: %v", req.Schema.Name, err)
		return &types.SchemaValidationError{Schema: req.Schema.Name, Raw: raw, Err: err}
	}
	return nil
}

// ExtractJSON strips markdown code fences and any prose around the outermost
// JSON object or array in s.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
