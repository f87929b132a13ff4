package webhook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"story-pipeline-backend/internal/webhook"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"story.ready","dry_run":true}`)
	sig := webhook.Sign("whsec_topsecret", "msg_1", "1700000000", body)
	assert.Equal(t, sig, webhook.Sign("topsecret", "msg_1", "1700000000", body))

	tests := []struct {
		name   string
		header string
		body   []byte
		want   error
	}{
		{name: "bare", header: sig, body: body},
		{name: "v1 pair", header: "v1=" + sig, body: body},
		{name: "list", header: "v1=deadbeef, v1=" + sig, body: body},
		{name: "wrong signature", header: "v1=deadbeef", body: body, want: webhook.ErrInvalidSignature},
		{name: "tampered body", header: sig, body: []byte(`{"event":"other"}`), want: webhook.ErrInvalidSignature},
		{name: "missing header", header: "", body: body, want: webhook.ErrMissingHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := webhook.Verify("whsec_topsecret", "msg_1", "1700000000", tt.header, tt.body)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestVerify_MissingIDOrTimestamp(t *testing.T) {
	assert.ErrorIs(t, webhook.Verify("s", "", "1", "abc", nil), webhook.ErrMissingHeaders)
	assert.ErrorIs(t, webhook.Verify("s", "id", "", "abc", nil), webhook.ErrMissingHeaders)
}
