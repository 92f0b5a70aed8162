package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifier_Notify_Success(t *testing.T) {
	var received map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "message_id": "msg-20250101-001"}`))
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 5*time.Second, zap.NewNop())

	measured := 301.0
	event := &Event{
		WarningID:   "warning-1",
		DeviceID:    "device-1",
		WarningType: "voltage_high",
		Severity:    "major",
		Level:       2,
		Measured:    &measured,
		Message:     "Voltage 301.00V exceeds critical threshold 290.40V",
		TriggeredAt: time.Now(),
		SentAt:      time.Now(),
	}

	messageID, err := n.Notify(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, "msg-20250101-001", messageID)

	assert.Equal(t, "warning-1", received["warning_id"])
	assert.Equal(t, "device-1", received["device_id"])
	assert.Equal(t, "voltage_high", received["warning_type"])
	assert.Equal(t, float64(2), received["level"])
	assert.Equal(t, 301.0, received["measured_value"])
}

func TestWebhookNotifier_Notify_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "error": "unknown device"}`))
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 5*time.Second, zap.NewNop())

	event := &Event{
		WarningID:   "warning-1",
		DeviceID:    "device-unknown",
		WarningType: "power_warning",
		Severity:    "moderate",
		Level:       1,
	}

	messageID, err := n.Notify(context.Background(), event)

	assert.Error(t, err)
	assert.Empty(t, messageID)
	assert.Contains(t, err.Error(), "unknown device")
}

func TestWebhookNotifier_Notify_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 5*time.Second, zap.NewNop())

	event := &Event{
		WarningID:   "warning-1",
		DeviceID:    "device-1",
		WarningType: "current_warning",
		Severity:    "moderate",
		Level:       1,
	}

	messageID, err := n.Notify(context.Background(), event)

	assert.Error(t, err)
	assert.Empty(t, messageID)
	assert.Contains(t, err.Error(), "503")
}

func TestWebhookNotifier_Notify_NilEvent(t *testing.T) {
	n := NewWebhookNotifier("http://localhost:0", time.Second, zap.NewNop())

	messageID, err := n.Notify(context.Background(), nil)

	assert.Error(t, err)
	assert.Empty(t, messageID)
	assert.Contains(t, err.Error(), "event is required")
}
