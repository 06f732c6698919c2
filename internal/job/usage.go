package job

import (
	"context"
	"encoding/json"
	"fmt"

	"historical/internal/apperrors"
)

// FetchUsage reads the account's usage document. The body is returned verbatim;
// it only has to be a JSON object.
func FetchUsage(ctx context.Context, transport Transport, usageURL string) (json.RawMessage, error) {
	resp, err := transport.Get(ctx, usageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Transport("account.usage", 0, err)
	}
	if !resp.OK() {
		return nil, apperrors.Transport("account.usage", resp.StatusCode, bodyError(resp.Body))
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &doc); err != nil || doc == nil {
		return nil, apperrors.Protocol("account.usage", fmt.Sprintf("usage is not a JSON object: %s", truncate(resp.Body)))
	}
	return json.RawMessage(resp.Body), nil
}

func truncate(body []byte) string {
	const limit = 64
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
