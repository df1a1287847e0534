package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/api"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/store/memory"
	"github.com/xraph/creditline/webhook"
)

const (
	jwtSecret     = "jwt-test-secret"
	webhookSecret = "whsec_test"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	t      *testing.T
	srv    *httptest.Server
	auth   *api.Authenticator
	ledger *creditline.Ledger
}

func setup(t *testing.T, gen gateway.Generator) *fixture {
	t.Helper()
	if gen == nil {
		gen = gateway.GeneratorFunc(func(_ context.Context, req gateway.Request) (gateway.Result, error) {
			if req.Kind == conversation.KindImage {
				return gateway.Result{Content: "https://img.example/x.png", IsImage: true}, nil
			}
			return gateway.Result{Content: "echo: " + req.Prompt}, nil
		})
	}

	l := creditline.New(memory.New(),
		creditline.WithLogger(quiet),
		creditline.WithGateway(gen),
		creditline.WithSweepInterval(0),
		creditline.WithInitialCredits(3),
		creditline.WithWebhookSecret(webhookSecret),
	)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })

	auth := api.NewAuthenticator(jwtSecret)
	srv := httptest.NewServer(api.New(l, auth,
		api.WithLogger(quiet),
		api.WithRegistry(prometheus.NewRegistry()),
	))
	t.Cleanup(srv.Close)

	return &fixture{t: t, srv: srv, auth: auth, ledger: l}
}

func (f *fixture) token(name string) (id.AccountID, string) {
	f.t.Helper()
	acct := id.NewAccountID()
	tok, err := f.auth.IssueToken(acct, name, time.Hour)
	require.NoError(f.t, err)
	return acct, tok
}

// do sends body as JSON and decodes the response envelope.
func (f *fixture) do(method, path, token string, body any) (int, map[string]any) {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.srv.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (f *fixture) createChat(token string) string {
	f.t.Helper()
	status, body := f.do(http.MethodPost, "/api/chat/create", token, api.CreateChatRequest{})
	require.Equal(f.t, http.StatusCreated, status)
	return body["chat"].(map[string]any)["id"].(string)
}

func (f *fixture) credits(token string) float64 {
	f.t.Helper()
	status, body := f.do(http.MethodGet, "/api/user/data", token, nil)
	require.Equal(f.t, http.StatusOK, status)
	return body["user"].(map[string]any)["credits"].(float64)
}

func TestRequiresBearerToken(t *testing.T) {
	f := setup(t, nil)

	status, body := f.do(http.MethodGet, "/api/user/data", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, false, body["success"])

	forged, err := api.NewAuthenticator("other-secret").IssueToken(id.NewAccountID(), "eve", time.Hour)
	require.NoError(t, err)
	status, _ = f.do(http.MethodGet, "/api/user/data", forged, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	expired, err := f.auth.IssueToken(id.NewAccountID(), "eve", -time.Minute)
	require.NoError(t, err)
	status, _ = f.do(http.MethodGet, "/api/user/data", expired, nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestFirstRequestOpensAccount(t *testing.T) {
	f := setup(t, nil)
	acct, tok := f.token("ada")

	status, body := f.do(http.MethodGet, "/api/user/data", tok, nil)
	require.Equal(t, http.StatusOK, status)
	user := body["user"].(map[string]any)
	require.Equal(t, acct.String(), user["id"])
	require.Equal(t, "ada", user["name"])
	require.InDelta(t, 3, user["credits"], 0)

	// A second request does not grant again.
	require.InDelta(t, 3, f.credits(tok), 0)
}

func TestChatLifecycle(t *testing.T) {
	f := setup(t, nil)
	_, tok := f.token("ada")
	chatID := f.createChat(tok)

	status, body := f.do(http.MethodPost, "/api/message/text", tok, api.MessageRequest{ChatID: chatID, Prompt: "hi"})
	require.Equal(t, http.StatusOK, status)
	reply := body["reply"].(map[string]any)
	require.Equal(t, "echo: hi", reply["content"])
	require.Equal(t, "assistant", reply["role"])
	require.InDelta(t, 2, body["credits"], 0)

	status, body = f.do(http.MethodGet, "/api/chat/get", tok, nil)
	require.Equal(t, http.StatusOK, status)
	chats := body["chats"].([]any)
	require.Len(t, chats, 1)
	require.Len(t, chats[0].(map[string]any)["messages"], 2)

	status, _ = f.do(http.MethodPost, "/api/chat/delete", tok, api.DeleteChatRequest{ChatID: chatID})
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(http.MethodPost, "/api/chat/delete", tok, api.DeleteChatRequest{ChatID: chatID})
	require.Equal(t, http.StatusNotFound, status)
}

func TestCannotUseAnotherAccountsChat(t *testing.T) {
	f := setup(t, nil)
	_, ada := f.token("ada")
	_, bob := f.token("bob")
	chatID := f.createChat(ada)

	status, _ := f.do(http.MethodPost, "/api/message/text", bob, api.MessageRequest{ChatID: chatID, Prompt: "hi"})
	require.Equal(t, http.StatusNotFound, status)
	require.InDelta(t, 3, f.credits(bob), 0)
}

func TestMessageStatuses(t *testing.T) {
	failing := gateway.GeneratorFunc(func(_ context.Context, req gateway.Request) (gateway.Result, error) {
		if req.Prompt == "boom" {
			return gateway.Result{}, &gateway.Failure{Kind: gateway.FailureRejected, Backend: "fake"}
		}
		return gateway.Result{Content: "https://img.example/x.png", IsImage: true}, nil
	})
	f := setup(t, failing)
	_, tok := f.token("ada")
	chatID := f.createChat(tok)

	status, _ := f.do(http.MethodPost, "/api/message/image", tok, api.MessageRequest{ChatID: chatID})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(http.MethodPost, "/api/message/image", tok, api.MessageRequest{ChatID: "nope", Prompt: "x"})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(http.MethodPost, "/api/message/image", tok, api.MessageRequest{ChatID: chatID, Prompt: "boom"})
	require.Equal(t, http.StatusBadGateway, status)
	require.InDelta(t, 3, f.credits(tok), 0)

	status, body := f.do(http.MethodPost, "/api/message/image", tok, api.MessageRequest{ChatID: chatID, Prompt: "fox", IsPublished: true})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["reply"].(map[string]any)["is_published"])

	// 1 credit left, an image costs 2.
	status, _ = f.do(http.MethodPost, "/api/message/image", tok, api.MessageRequest{ChatID: chatID, Prompt: "fox"})
	require.Equal(t, http.StatusPaymentRequired, status)

	status, body = f.do(http.MethodGet, "/api/user/published-images", tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["images"], 1)

	status, body = f.do(http.MethodGet, "/api/user/published-images?group=publisher", tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["publishers"], 1)
}

func TestPurchaseAndWebhook(t *testing.T) {
	f := setup(t, nil)
	_, tok := f.token("ada")

	status, body := f.do(http.MethodGet, "/api/credit/plans", tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["plans"], 3)

	status, _ = f.do(http.MethodPost, "/api/credit/purchase", tok, api.PurchaseRequest{PlanID: "gold"})
	require.Equal(t, http.StatusNotFound, status)

	status, body = f.do(http.MethodPost, "/api/credit/purchase", tok, api.PurchaseRequest{PlanID: "basic"})
	require.Equal(t, http.StatusCreated, status)
	metadata := body["metadata"].(map[string]any)

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": webhook.EventCheckoutCompleted,
		"data": map[string]any{"object": map[string]any{
			"id":             "cs_1",
			"payment_status": "paid",
			"metadata":       metadata,
		}},
	})
	require.NoError(t, err)

	post := func(sig string) (int, map[string]any) {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/credit/webhook", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set(webhook.SignatureHeader, sig)
		resp, err := f.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, _ = post(webhook.Sign(payload, "whsec_wrong", time.Now()))
	require.Equal(t, http.StatusUnauthorized, status)
	require.InDelta(t, 3, f.credits(tok), 0)

	status, body = post(webhook.Sign(payload, webhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "settled", body["outcome"])
	require.InDelta(t, 103, f.credits(tok), 0)

	status, body = post(webhook.Sign(payload, webhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "already_settled", body["outcome"])
	require.InDelta(t, 103, f.credits(tok), 0)
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t, nil)

	status, body := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `creditline_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
