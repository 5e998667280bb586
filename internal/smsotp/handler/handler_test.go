package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	"phone-otp-mfa/internal/audit"
	"phone-otp-mfa/internal/authsession"
	"phone-otp-mfa/internal/devotp"
	"phone-otp-mfa/internal/render"
	"phone-otp-mfa/internal/security"
	"phone-otp-mfa/internal/smsotp"
)

type fakeStep struct {
	configured    bool
	configuredErr error
	evalRes       smsotp.Result
	evalErr       error
	submitRes     smsotp.Result
	submitErr     error

	requiredActions int
	lastReq         smsotp.Request
	lastSub         smsotp.Submission
	lastIP          string
}

func (f *fakeStep) RequiresUser() bool { return true }

func (f *fakeStep) ConfiguredFor(ctx context.Context, realm, userID string) (bool, error) {
	return f.configured, f.configuredErr
}

func (f *fakeStep) SetRequiredActions(ctx context.Context, realm, userID string) error {
	f.requiredActions++
	return nil
}

func (f *fakeStep) Evaluate(ctx context.Context, req smsotp.Request) (smsotp.Result, error) {
	f.lastReq = req
	f.lastIP = audit.ClientIPFromContext(ctx)
	return f.evalRes, f.evalErr
}

func (f *fakeStep) Submit(ctx context.Context, req smsotp.Request, sub smsotp.Submission) (smsotp.Result, error) {
	f.lastReq = req
	f.lastSub = sub
	f.lastIP = audit.ClientIPFromContext(ctx)
	return f.submitRes, f.submitErr
}

type testEnv struct {
	step     *fakeStep
	tokens   *security.FlowTokens
	sessions *authsession.MemoryStore
	dev      *devotp.MemoryStore
	routes   http.Handler
}

func newTestEnv(t *testing.T, step *fakeStep) *testEnv {
	t.Helper()
	tokens, err := security.NewFlowTokens("flow-secret", "login", time.Minute)
	if err != nil {
		t.Fatalf("NewFlowTokens: %v", err)
	}
	renderer, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	sessions := authsession.NewMemoryStore(time.Minute)
	dev := devotp.NewMemoryStore()
	h, err := New(step, tokens, sessions, renderer, Config{
		ContinueURL: "https://login.example.com/continue?step=sms",
		DevCodes:    dev,
		// httptest requests arrive from 192.0.2.1.
		TrustedProxies: []netip.Prefix{netip.MustParsePrefix("192.0.2.1/32")},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{step: step, tokens: tokens, sessions: sessions, dev: dev, routes: h.Routes()}
}

func (e *testEnv) token(t *testing.T, realm string) string {
	t.Helper()
	tok, _, err := e.tokens.Issue("flow-1", "user-1", realm)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.routes.ServeHTTP(rec, r)
	return rec
}

const stepPath = "/realms/acme/login-actions/sms-otp"

func challengeResult(status smsotp.Status, errCode string) smsotp.Result {
	return smsotp.Result{
		Status: status,
		State:  smsotp.StateChallengeSent,
		Form: &smsotp.ChallengeForm{
			Page:         smsotp.Page,
			PhoneNumber:  "+15551234",
			CredentialID: "cred1",
			ExpiresIn:    300,
			CodeSent:     true,
			Error:        errCode,
			SupportPhone: true,
		},
	}
}

func TestEvaluate_RendersChallenge(t *testing.T) {
	step := &fakeStep{configured: true, evalRes: challengeResult(smsotp.StatusChallenge, "")}
	env := newTestEnv(t, step)
	if err := env.sessions.SetNote(context.Background(), "flow-1", authsession.NoteVerifiedPhoneNumber, "+15550000"); err != nil {
		t.Fatalf("SetNote: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "acme")})
	r.AddCookie(&http.Cookie{Name: smsotp.IndexCookieName, Value: "cred1"})
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := env.do(r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `action="/realms/acme/login-actions/sms-otp"`) {
		t.Error("form should post back to the step route")
	}
	req := step.lastReq
	if req.Realm != "acme" || req.UserID != "user-1" || req.VerifiedPhone != "+15550000" || req.ClientAddr != "203.0.113.7" {
		t.Errorf("request = %+v", req)
	}
	if req.Cookies[smsotp.IndexCookieName] != "cred1" {
		t.Errorf("cookies = %v", req.Cookies)
	}
	if step.lastIP != "203.0.113.7" {
		t.Errorf("audit client ip = %q", step.lastIP)
	}
}

func TestEvaluate_TrustedRedirects(t *testing.T) {
	step := &fakeStep{configured: true, evalRes: smsotp.Result{Status: smsotp.StatusSuccess, State: smsotp.StateTrustedExit}}
	env := newTestEnv(t, step)

	r := httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.Header.Set("Authorization", "Bearer "+env.token(t, "acme"))
	rec := env.do(r)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	q := loc.Query()
	if loc.Host != "login.example.com" || q.Get("flow_id") != "flow-1" || q.Get("result") != ResultSuccess || q.Get("step") != "sms" {
		t.Errorf("Location = %s", loc)
	}
	note, _ := env.sessions.GetNote(context.Background(), "flow-1", authsession.NoteSmsOtpResult)
	if note != ResultSuccess {
		t.Errorf("result note = %q", note)
	}
}

func TestEvaluate_NotConfiguredRegistersRequiredAction(t *testing.T) {
	step := &fakeStep{configured: false}
	env := newTestEnv(t, step)

	r := httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "acme")})
	rec := env.do(r)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if step.requiredActions != 1 {
		t.Errorf("SetRequiredActions calls = %d", step.requiredActions)
	}
	if !strings.Contains(rec.Header().Get("Location"), "result="+ResultRequiredAction) {
		t.Errorf("Location = %s", rec.Header().Get("Location"))
	}
	if step.lastReq.UserID != "" {
		t.Error("Evaluate should not run for an unconfigured user")
	}
}

func TestEvaluate_FlowTokenChecks(t *testing.T) {
	step := &fakeStep{configured: true}
	env := newTestEnv(t, step)

	r := httptest.NewRequest(http.MethodGet, stepPath, nil)
	if rec := env.do(r); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d", rec.Code)
	}

	r = httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: "garbage"})
	if rec := env.do(r); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rec.Code)
	}

	r = httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "other")})
	if rec := env.do(r); rec.Code != http.StatusForbidden {
		t.Errorf("realm mismatch status = %d", rec.Code)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	step := &fakeStep{configured: true, evalErr: errors.New("db down")}
	env := newTestEnv(t, step)

	r := httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "acme")})
	rec := env.do(r)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("store error status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("internal error text should not reach the page")
	}

	step.evalErr = smsotp.ErrNoCredential
	r = httptest.NewRequest(http.MethodGet, stepPath, nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "acme")})
	if rec := env.do(r); rec.Code != http.StatusConflict {
		t.Errorf("no credential status = %d", rec.Code)
	}
}

func TestSubmit_SuccessWritesCookies(t *testing.T) {
	step := &fakeStep{submitRes: smsotp.Result{
		Status: smsotp.StatusSuccess,
		State:  smsotp.StateSuccessExit,
		Cookies: []*http.Cookie{
			{Name: smsotp.IndexCookieName, Value: "cred1", Path: "/realms/acme", MaxAge: 300, HttpOnly: true},
			{Name: "cred1", Value: "123456", Path: "/realms/acme", MaxAge: 300, HttpOnly: true},
		},
	}}
	env := newTestEnv(t, step)

	form := url.Values{"code": {" 123456 "}, "credentialId": {"cred1"}}
	r := httptest.NewRequest(http.MethodPost, stepPath, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "acme")})
	r.RemoteAddr = "192.0.2.1:5555"
	rec := env.do(r)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if step.lastSub.Code != "123456" || step.lastSub.CredentialID != "cred1" {
		t.Errorf("submission = %+v", step.lastSub)
	}
	if step.lastIP != "192.0.2.1" {
		t.Errorf("client ip = %q", step.lastIP)
	}
	set := rec.Result().Cookies()
	if len(set) != 2 || set[0].Name != smsotp.IndexCookieName || set[1].Name != "cred1" {
		t.Errorf("Set-Cookie = %v", set)
	}
}

func TestSubmit_FailureChallenge(t *testing.T) {
	step := &fakeStep{submitRes: challengeResult(smsotp.StatusFailureChallenge, smsotp.ErrorNotMatched)}
	env := newTestEnv(t, step)

	form := url.Values{"code": {"000000"}}
	r := httptest.NewRequest(http.MethodPost, stepPath, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, "acme")})
	rec := env.do(r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), messages[smsotp.ErrorNotMatched]) {
		t.Error("page should show the not-matched message")
	}
}

func TestDevCode(t *testing.T) {
	env := newTestEnv(t, &fakeStep{})
	env.dev.Put(context.Background(), "+15551234", "424242", time.Now().Add(time.Minute))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/dev/sms-otp/code?phone=%2B15551234", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body devCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "424242" || body.Phone != "+15551234" || body.Note == "" {
		t.Errorf("body = %+v", body)
	}

	if rec := env.do(httptest.NewRequest(http.MethodGet, "/dev/sms-otp/code?phone=%2B10000000", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown phone status = %d", rec.Code)
	}
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/dev/sms-otp/code", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing phone status = %d", rec.Code)
	}
}

func TestDevCode_DisabledWithoutStore(t *testing.T) {
	tokens, _ := security.NewFlowTokens("s", "login", time.Minute)
	renderer, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	h, err := New(&fakeStep{}, tokens, authsession.NewMemoryStore(time.Minute), renderer, Config{ContinueURL: "/continue"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/sms-otp/code?phone=1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestNew_Validation(t *testing.T) {
	tokens, _ := security.NewFlowTokens("s", "login", time.Minute)
	renderer, _ := render.New()
	if _, err := New(&fakeStep{}, tokens, authsession.NewMemoryStore(0), renderer, Config{}, nil); err == nil {
		t.Error("empty continue url should be rejected")
	}
	if _, err := New(nil, tokens, authsession.NewMemoryStore(0), renderer, Config{ContinueURL: "/c"}, nil); err == nil {
		t.Error("nil step should be rejected")
	}
}

func TestEvaluate_EscapedRealmMatchesCookiePath(t *testing.T) {
	step := &fakeStep{configured: true, evalRes: challengeResult(smsotp.StatusChallenge, "")}
	env := newTestEnv(t, step)
	realm := "acme corp"
	escaped := "/realms/" + url.PathEscape(realm)

	r := httptest.NewRequest(http.MethodGet, escaped+"/login-actions/sms-otp", nil)
	r.AddCookie(&http.Cookie{Name: FlowCookieName, Value: env.token(t, realm)})
	rec := env.do(r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if step.lastReq.Realm != realm {
		t.Errorf("realm = %q, want %q", step.lastReq.Realm, realm)
	}
	if !strings.Contains(rec.Body.String(), `action="`+escaped+`/login-actions/sms-otp"`) {
		t.Errorf("form action should use the escaped realm, body %s", rec.Body.String())
	}
	if got := smsotp.NewCookieCodec(nil, "", true).Path(realm); got != escaped {
		t.Errorf("cookie path = %q, want the route prefix %q", got, escaped)
	}
}
