package alerting

import (
	"testing"
	"time"

	"github.com/orderflowlabs/flowengine/internal/coordinate"
	"github.com/orderflowlabs/flowengine/internal/detect"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
)

func mustPrice(t *testing.T, s string) fxmath.Price {
	t.Helper()
	p, ok := fxmath.NewPrice(s)
	if !ok {
		t.Fatalf("invalid test price %q", s)
	}
	return p
}

func TestNewManagerDisabledOK(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	sig := coordinate.ConfirmedSignal{Type: detect.SignalAbsorption, Side: detect.Buy, Price: mustPrice(t, "100"), Timestamp: time.Now(), Confidence: 0.9}
	m.Notify(sig) // must not panic, must not dial anything
}

func TestConfigValidateRequiresWebhookWhenEnabled(t *testing.T) {
	cfg := Config{Enabled: true, Cooldown: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when enabled with no webhook URLs configured")
	}
}

func TestNotifyRespectsCooldown(t *testing.T) {
	m := NewManager(Config{Enabled: true, SlackWebhookURL: "http://127.0.0.1:0/hook", Cooldown: time.Hour})
	sig := coordinate.ConfirmedSignal{Type: detect.SignalExhaustion, Side: detect.Sell, Price: mustPrice(t, "100"), Timestamp: time.Now(), Confidence: 0.5}

	m.Notify(sig)
	m.mu.Lock()
	first := m.cooldown[string(sig.Type)+"|"+string(sig.Side)]
	m.mu.Unlock()

	m.Notify(sig)
	m.mu.Lock()
	second := m.cooldown[string(sig.Type)+"|"+string(sig.Side)]
	m.mu.Unlock()

	if !first.Equal(second) {
		t.Error("expected cooldown timestamp to be unchanged on a second notify within the cooldown window")
	}
}
