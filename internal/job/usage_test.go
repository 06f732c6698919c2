package job

import (
	"context"
	"errors"
	"testing"

	"historical/internal/apperrors"
)

const testUsageURL = "https://api.test/accounts/acme/usage.json"

func TestFetchUsage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		reply    reply
		wantErr  error
		wantCode int
	}{
		{"ok", reply{status: 200, body: `{"account":"acme","historicalPowerTrack":{"jobs":3}}`}, nil, 0},
		{"forbidden", reply{status: 403, body: `{"error":"no access"}`}, apperrors.ErrTransport, 403},
		{"unreachable", reply{err: errors.New("connection refused")}, apperrors.ErrTransport, 0},
		{"not an object", reply{status: 200, body: `[1,2]`}, apperrors.ErrProtocol, 0},
		{"not json", reply{status: 200, body: `<html>`}, apperrors.ErrProtocol, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport := newFakeTransport()
			transport.on("GET", testUsageURL, tt.reply)

			usage, err := FetchUsage(context.Background(), transport, testUsageURL)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("FetchUsage() error = %v", err)
				}
				if string(usage) != tt.reply.body {
					t.Errorf("usage = %s, want %s", usage, tt.reply.body)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchUsage() error = %v, want %v", err, tt.wantErr)
			}
			if code := apperrors.StatusCode(err); code != tt.wantCode {
				t.Errorf("StatusCode() = %d, want %d", code, tt.wantCode)
			}
		})
	}
}
