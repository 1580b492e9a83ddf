package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/livechat-bridge/internal/domain"
	"github.com/tbourn/livechat-bridge/internal/services"
	"github.com/tbourn/livechat-bridge/internal/validation"
)

// ---------- stubs ----------

type stubBridge struct {
	ingest func(ctx context.Context, ev *domain.LivechatEvent) (services.IngestOutcome, error)
	got    *domain.LivechatEvent
}

func (s *stubBridge) Ingest(ctx context.Context, ev *domain.LivechatEvent) (services.IngestOutcome, error) {
	s.got = ev
	return s.ingest(ctx, ev)
}

type stubVerifier struct {
	verify   func(req domain.VerifyRequest) (domain.VerifyResult, error)
	remoteIP string
	calls    int
}

func (s *stubVerifier) Verify(_ context.Context, req domain.VerifyRequest, remoteIP string) (domain.VerifyResult, error) {
	s.calls++
	s.remoteIP = remoteIP
	return s.verify(req)
}

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/livechat/webhook", h.LivechatWebhook)
	r.POST("/chat/verify", h.VerifyChat)
	r.GET("/health", h.Health)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:5555"
	r.ServeHTTP(w, req)
	return w
}

const webhookBody = `{
  "_id": "conv-1",
  "type": "Message",
  "visitor": {"_id": "v1", "token": "tok-1", "name": "Jane", "email": [{"address": "jane@example.com"}]},
  "messages": [{"_id": "m1", "u": {"_id": "v1", "username": "jane"}, "msg": "hello", "ts": "2026-01-02T10:00:00Z", "rid": "room-1"}]
}`

// ---------- webhook ----------

func TestLivechatWebhook_Dispatched(t *testing.T) {
	bridge := &stubBridge{ingest: func(context.Context, *domain.LivechatEvent) (services.IngestOutcome, error) {
		return services.IngestOutcome{
			Message: services.MsgQueued,
			Data: &services.IngestData{
				ConversationID:    "conv-1",
				Message:           "hello",
				SessionID:         "v1",
				ProcessingStarted: true,
			},
		}, nil
	}}
	r := newTestRouter(New(bridge, nil, nil))

	w := post(r, "/livechat/webhook", webhookBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if bridge.got == nil || bridge.got.ID != "conv-1" || len(bridge.got.Messages) != 1 {
		t.Fatalf("event not decoded: %+v", bridge.got)
	}

	var resp WebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Success || resp.Message != services.MsgQueued || resp.Data == nil || !resp.Data.ProcessingStarted {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Skipped || strings.Contains(w.Body.String(), "reason") {
		t.Fatalf("skip fields should be omitted: %s", w.Body.String())
	}
}

func TestLivechatWebhook_SkippedIsSuccess(t *testing.T) {
	bridge := &stubBridge{ingest: func(context.Context, *domain.LivechatEvent) (services.IngestOutcome, error) {
		return services.IngestOutcome{Message: services.MsgDuplicate, Skipped: true, Reason: services.ReasonDeduplication}, nil
	}}
	w := post(newTestRouter(New(bridge, nil, nil)), "/livechat/webhook", webhookBody)

	var resp WebhookResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || !resp.Success || !resp.Skipped || resp.Reason != services.ReasonDeduplication || resp.Data != nil {
		t.Fatalf("status=%d resp=%+v", w.Code, resp)
	}
}

func TestLivechatWebhook_Errors(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"malformed json", `{"_id":`, nil, http.StatusBadRequest, ErrCodeInvalidPayload},
		{"validation", webhookBody, &validation.Error{Fields: map[string]string{"messages[0]._id": "is required"}}, http.StatusBadRequest, ErrCodeInvalidPayload},
		{"dedup down", webhookBody, services.ErrDedupUnavailable, http.StatusInternalServerError, ErrCodeDedupUnavailable},
		{"unexpected", webhookBody, errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bridge := &stubBridge{ingest: func(context.Context, *domain.LivechatEvent) (services.IngestOutcome, error) {
				return services.IngestOutcome{}, tc.err
			}}
			w := post(newTestRouter(New(bridge, nil, nil)), "/livechat/webhook", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("status=%d; want %d", w.Code, tc.wantCode)
			}
			var resp ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Success || resp.Code != tc.wantErr {
				t.Fatalf("resp=%+v", resp)
			}
			if tc.name == "validation" && resp.Fields["messages[0]._id"] != "is required" {
				t.Fatalf("fields not propagated: %+v", resp.Fields)
			}
		})
	}
}

func TestLivechatWebhook_Disabled(t *testing.T) {
	w := post(newTestRouter(New(nil, nil, nil)), "/livechat/webhook", webhookBody)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

// ---------- verify ----------

func TestVerifyChat_StatusMapping(t *testing.T) {
	no := false
	cases := []struct {
		name string
		res  domain.VerifyResult
		err  error
		want int
	}{
		{"ok", domain.VerifyResult{Success: true, Hostname: "example.com"}, nil, http.StatusOK},
		{"rejected", domain.VerifyResult{Success: false, ErrorCodes: []string{"timeout-or-duplicate"}, Message: "expired"}, services.ErrVerificationFailed, http.StatusBadRequest},
		{"not configured", domain.VerifyResult{Success: false, CanRetry: &no}, services.ErrVerifierNotConfigured, http.StatusInternalServerError},
		{"unavailable", domain.VerifyResult{Success: false}, services.ErrVerifierUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &stubVerifier{verify: func(req domain.VerifyRequest) (domain.VerifyResult, error) {
				if req.SessionID != "ctx-1" || !req.RefreshAttempt {
					t.Fatalf("request not decoded: %+v", req)
				}
				return tc.res, tc.err
			}}
			w := post(newTestRouter(New(nil, v, nil)), "/chat/verify",
				`{"token":"tok","sessionId":"ctx-1","refreshAttempt":true}`)
			if w.Code != tc.want {
				t.Fatalf("status=%d; want %d", w.Code, tc.want)
			}
			var got domain.VerifyResult
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("json: %v", err)
			}
			if got.Success != tc.res.Success || got.Message != tc.res.Message {
				t.Fatalf("body=%+v", got)
			}
			if v.remoteIP != "192.0.2.10" {
				t.Fatalf("remoteIP=%q", v.remoteIP)
			}
		})
	}
}

func TestVerifyChat_BadRequestSkipsVerifier(t *testing.T) {
	for _, body := range []string{`{"token":`, `{"token":"","sessionId":"s"}`, `{"token":"t"}`} {
		v := &stubVerifier{}
		w := post(newTestRouter(New(nil, v, nil)), "/chat/verify", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", body, w.Code)
		}
		var got domain.VerifyResult
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		if got.Success || got.Retryable() {
			t.Fatalf("%s: body=%+v", body, got)
		}
		if v.calls != 0 {
			t.Fatalf("%s: verifier must not be called", body)
		}
	}
}

// ---------- health ----------

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newTestRouter(New(nil, nil, func() int { return 7 }))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"queueDepth":7`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
