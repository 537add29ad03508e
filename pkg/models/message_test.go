package models

import (
	"encoding/json"
	"testing"
)

func TestRequestMetadataUnmarshalJSONPopulatesNamedFields(t *testing.T) {
	var m RequestMetadata
	body := `{"agentId":"agent-1","sessionId":"sess-1","userId":"user-1","isAdmin":true,"emergencyBypass":"oncall","forceSunrise":true}`
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.AgentID != "agent-1" || m.SessionID != "sess-1" || m.UserID != "user-1" {
		t.Fatalf("unexpected named fields: %+v", m)
	}
	if !m.IsAdmin || m.EmergencyBypass != "oncall" || !m.ForceSunrise {
		t.Fatalf("unexpected admin/bypass fields: %+v", m)
	}
	if len(m.Extra) != 0 {
		t.Fatalf("expected no Extra keys, got %+v", m.Extra)
	}
}

func TestRequestMetadataUnmarshalJSONStashesUnknownKeysInExtra(t *testing.T) {
	var m RequestMetadata
	body := `{"agentId":"agent-1","team":"growth","priority":3,"tags":["a","b"]}`
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.AgentID != "agent-1" {
		t.Fatalf("expected named field AgentID to still decode, got %q", m.AgentID)
	}
	if m.Extra["team"] != "growth" {
		t.Fatalf("expected Extra[team] = growth, got %+v", m.Extra["team"])
	}
	if m.Extra["priority"] != float64(3) {
		t.Fatalf("expected Extra[priority] = 3, got %+v", m.Extra["priority"])
	}
	if _, ok := m.Extra["agentId"]; ok {
		t.Fatalf("named field agentId should not also appear in Extra, got %+v", m.Extra)
	}
}

func TestRequestMetadataUnmarshalJSONFromChatRequestBody(t *testing.T) {
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"metadata":{"agentId":"agent-1","costCenter":"eng"}}`
	var req ChatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Metadata.AgentID != "agent-1" {
		t.Fatalf("expected metadata.agentId to decode, got %q", req.Metadata.AgentID)
	}
	if req.Metadata.Extra["costCenter"] != "eng" {
		t.Fatalf("expected metadata.Extra[costCenter] = eng, got %+v", req.Metadata.Extra)
	}
}
