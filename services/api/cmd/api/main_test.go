package main

import (
	"testing"

	"docassist/services/api/internal/relayclient"
)

func TestWriteTimeoutOutlastsVoiceRelayCalls(t *testing.T) {
	relayBudget := relayclient.TranscribeTimeout + relayclient.RespondTimeout
	if writeTimeout <= relayBudget {
		t.Fatalf("write timeout %s must exceed the voice relay budget %s", writeTimeout, relayBudget)
	}
}
