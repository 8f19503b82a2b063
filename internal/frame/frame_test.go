package frame

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewConnectionState_ProgressEncoding(t *testing.T) {
	tests := []struct {
		name         string
		progress     int
		wantProgress bool
	}{
		{"with progress", 40, true},
		{"zero progress", 0, true},
		{"omitted", -1, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewConnectionState("conn-1", "validating", "Validating configuration...", tc.progress)

			data, err := json.Marshal(f)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			var raw map[string]any
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			_, has := raw["progress"]
			if has != tc.wantProgress {
				t.Errorf("progress present = %v, want %v", has, tc.wantProgress)
			}
			if raw["state"] != "validating" {
				t.Errorf("state = %v, want validating", raw["state"])
			}
			if raw["connection_id"] != "conn-1" {
				t.Errorf("connection_id = %v", raw["connection_id"])
			}
			if _, ok := raw["timestamp"]; !ok {
				t.Error("timestamp missing")
			}
		})
	}
}

func TestVoiceResponse_WireCasing(t *testing.T) {
	f := NewVoiceResponse("<div>hi</div>", "hello there", ContentHTML, "tailwind")

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)

	for _, want := range []string{`"voiceText"`, `"role":"assistant"`, `"content_type":"html"`, `"framework":"tailwind"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded frame missing %s: %s", want, s)
		}
	}
	if f.ID == "" {
		t.Error("voice_response must carry a generated id")
	}
}

func TestTextChatResponse_ThreadCasing(t *testing.T) {
	f := NewTextChatResponse("payload", "thread-7", ContentC1, "")

	data, _ := json.Marshal(f)
	if !strings.Contains(string(data), `"threadId":"thread-7"`) {
		t.Errorf("threadId not encoded camel-case: %s", data)
	}
	if strings.Contains(string(data), `"framework"`) {
		t.Errorf("empty framework should be omitted: %s", data)
	}
}

func TestIsVoiceKind(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindUserTranscription, true},
		{KindVoiceResponse, true},
		{KindImmediateVoice, true},
		{KindChatToken, false},
		{KindC1Token, false},
		{KindTextChatResponse, false},
		{KindError, false},
	}

	for _, tc := range tests {
		if got := IsVoiceKind(tc.kind); got != tc.want {
			t.Errorf("IsVoiceKind(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(t *testing.T, in Inbound)
	}{
		{
			name: "chat frame",
			data: `{"type":"chat","message":"hello","thread_id":"T1"}`,
			check: func(t *testing.T, in Inbound) {
				if in.Type != KindChat {
					t.Errorf("type = %s", in.Type)
				}
				if in.Message != "hello" || in.ThreadID != "T1" {
					t.Errorf("fields = %q %q", in.Message, in.ThreadID)
				}
			},
		},
		{
			name: "config frame keeps raw config",
			data: `{"type":"connection_config","config":{"client_id":"c1"}}`,
			check: func(t *testing.T, in Inbound) {
				if len(in.Config) == 0 {
					t.Error("config not captured")
				}
			},
		},
		{name: "missing type", data: `{"message":"x"}`, wantErr: true},
		{name: "invalid json", data: `{`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tc.data))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			if tc.check != nil {
				tc.check(t, in)
			}
		})
	}
}

func TestDecodeInbound_SizeLimit(t *testing.T) {
	big := `{"type":"chat","message":"` + strings.Repeat("a", MaxInboundBytes) + `"}`
	if _, err := DecodeInbound([]byte(big)); err == nil {
		t.Error("oversized frame accepted")
	}

	ok := `{"type":"chat","message":"` + strings.Repeat("a", 100) + `"}`
	if _, err := DecodeInbound([]byte(ok)); err != nil {
		t.Errorf("small frame rejected: %v", err)
	}
}
