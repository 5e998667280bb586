// Package handler serves the SMS OTP login step over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"phone-otp-mfa/internal/audit"
	"phone-otp-mfa/internal/authsession"
	"phone-otp-mfa/internal/devotp"
	"phone-otp-mfa/internal/render"
	"phone-otp-mfa/internal/security"
	"phone-otp-mfa/internal/smsotp"
)

// Values written to the SMS_OTP_RESULT flow note and the continue URL.
const (
	ResultSuccess        = "success"
	ResultRequiredAction = "required_action"
)

const maxFormBytes = 8 << 10

const devOTPNote = "DEV MODE ONLY: never enable OTP_RETURN_TO_CLIENT in production"

var messages = map[string]string{
	smsotp.ErrorAbused:     "Too many codes were requested. Try again later.",
	smsotp.ErrorSendFailed: "The code could not be sent. Try again.",
	smsotp.ErrorNotMatched: "The code is not correct.",
}

// Step is the login step driven by the handler.
type Step interface {
	RequiresUser() bool
	ConfiguredFor(ctx context.Context, realm, userID string) (bool, error)
	SetRequiredActions(ctx context.Context, realm, userID string) error
	Evaluate(ctx context.Context, req smsotp.Request) (smsotp.Result, error)
	Submit(ctx context.Context, req smsotp.Request, sub smsotp.Submission) (smsotp.Result, error)
}

// Config holds the handler settings.
type Config struct {
	// BasePath prefixes the realm routes. Defaults to smsotp.DefaultBasePath.
	BasePath string
	// ContinueURL receives the browser after the step ends, with flow_id and result query parameters.
	ContinueURL string
	// DevCodes, when set, enables GET /dev/sms-otp/code.
	DevCodes devotp.Store
	// TrustedProxies are the peers whose forwarding headers name the client address.
	TrustedProxies []netip.Prefix
}

// Handler serves the step pages.
type Handler struct {
	step     Step
	tokens   *security.FlowTokens
	sessions authsession.Store
	renderer *render.Renderer
	cfg      Config
	logger   *slog.Logger
}

// New returns a Handler.
func New(step Step, tokens *security.FlowTokens, sessions authsession.Store, renderer *render.Renderer, cfg Config, logger *slog.Logger) (*Handler, error) {
	if step == nil || tokens == nil || sessions == nil || renderer == nil {
		return nil, errors.New("handler: step, tokens, sessions and renderer are required")
	}
	if _, err := url.Parse(cfg.ContinueURL); err != nil || cfg.ContinueURL == "" {
		return nil, fmt.Errorf("handler: invalid continue url %q", cfg.ContinueURL)
	}
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	if cfg.BasePath == "" {
		cfg.BasePath = smsotp.DefaultBasePath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{step: step, tokens: tokens, sessions: sessions, renderer: renderer, cfg: cfg, logger: logger}, nil
}

// Routes returns the handler's routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	pattern := h.cfg.BasePath + "/{realm}/login-actions/sms-otp"
	mux.HandleFunc("GET "+pattern, h.evaluate)
	mux.HandleFunc("POST "+pattern, h.submit)
	if h.cfg.DevCodes != nil {
		mux.HandleFunc("GET /dev/sms-otp/code", h.devCode)
	}
	return mux
}

type flow struct {
	claims *security.FlowClaims
	req    smsotp.Request
}

// begin authenticates the flow token against the path realm and builds the step request.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (context.Context, *flow, bool) {
	realm := r.PathValue("realm")
	claims, err := h.tokens.Validate(flowToken(r))
	if err != nil {
		h.renderError(w, http.StatusUnauthorized, "The login session is invalid or has expired.")
		return nil, nil, false
	}
	if claims.Realm != realm {
		h.renderError(w, http.StatusForbidden, "The login session belongs to another realm.")
		return nil, nil, false
	}
	if h.step.RequiresUser() && claims.Subject == "" {
		h.renderError(w, http.StatusUnauthorized, "The login session has no user.")
		return nil, nil, false
	}
	ip := clientIP(r, h.cfg.TrustedProxies)
	ctx := audit.WithClientIP(r.Context(), ip)
	return ctx, &flow{
		claims: claims,
		req: smsotp.Request{
			Realm:      realm,
			UserID:     claims.Subject,
			Cookies:    requestCookies(r),
			ClientAddr: ip,
		},
	}, true
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.begin(w, r)
	if !ok {
		return
	}
	configured, err := h.step.ConfiguredFor(ctx, f.req.Realm, f.req.UserID)
	if err != nil {
		h.fail(ctx, w, "configured for", err)
		return
	}
	if !configured {
		if err := h.step.SetRequiredActions(ctx, f.req.Realm, f.req.UserID); err != nil {
			h.fail(ctx, w, "set required actions", err)
			return
		}
		h.finishFlow(ctx, w, r, f, ResultRequiredAction)
		return
	}

	phone, err := h.sessions.GetNote(ctx, f.claims.FlowID, authsession.NoteVerifiedPhoneNumber)
	if err != nil {
		h.fail(ctx, w, "read flow note", err)
		return
	}
	f.req.VerifiedPhone = phone

	res, err := h.step.Evaluate(ctx, f.req)
	if err != nil {
		h.fail(ctx, w, "evaluate", err)
		return
	}
	h.respond(ctx, w, r, f, res)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	ctx, f, ok := h.begin(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.renderError(w, http.StatusBadRequest, "The form could not be read.")
		return
	}
	sub := smsotp.Submission{
		Code:         strings.TrimSpace(r.PostForm.Get("code")),
		CredentialID: r.PostForm.Get("credentialId"),
	}
	res, err := h.step.Submit(ctx, f.req, sub)
	if err != nil {
		h.fail(ctx, w, "submit", err)
		return
	}
	h.respond(ctx, w, r, f, res)
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, r *http.Request, f *flow, res smsotp.Result) {
	for _, c := range res.Cookies {
		http.SetCookie(w, c)
	}
	switch res.Status {
	case smsotp.StatusSuccess:
		h.finishFlow(ctx, w, r, f, ResultSuccess)
	case smsotp.StatusChallenge:
		h.renderChallenge(ctx, w, http.StatusOK, f.req.Realm, res.Form)
	case smsotp.StatusFailureChallenge:
		h.renderChallenge(ctx, w, http.StatusUnauthorized, f.req.Realm, res.Form)
	default:
		h.fail(ctx, w, "respond", fmt.Errorf("unexpected step status %v", res.Status))
	}
}

func (h *Handler) finishFlow(ctx context.Context, w http.ResponseWriter, r *http.Request, f *flow, result string) {
	if err := h.sessions.SetNote(ctx, f.claims.FlowID, authsession.NoteSmsOtpResult, result); err != nil {
		h.fail(ctx, w, "write flow note", err)
		return
	}
	target, err := continueURL(h.cfg.ContinueURL, f.claims.FlowID, result)
	if err != nil {
		h.fail(ctx, w, "continue url", err)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func continueURL(base, flowID, result string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("flow_id", flowID)
	q.Set("result", result)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type challengeView struct {
	Form      *smsotp.ChallengeForm
	ActionURL string
	Message   string
}

func (h *Handler) renderChallenge(ctx context.Context, w http.ResponseWriter, status int, realm string, form *smsotp.ChallengeForm) {
	if form == nil {
		h.fail(ctx, w, "render", errors.New("challenge result without form"))
		return
	}
	view := challengeView{
		Form:      form,
		ActionURL: h.cfg.BasePath + "/" + url.PathEscape(realm) + "/login-actions/sms-otp",
		Message:   messages[form.Error],
	}
	if err := h.renderer.Render(w, status, form.Page, view); err != nil {
		h.logger.ErrorContext(ctx, "render challenge page failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, status int, message string) {
	if err := h.renderer.Render(w, status, "error", struct{ Message string }{message}); err != nil {
		h.logger.Error("render error page failed", "error", err)
		http.Error(w, message, status)
	}
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if errors.Is(err, smsotp.ErrNoCredential) {
		h.renderError(w, http.StatusConflict, "No SMS verification is set up for this account.")
		return
	}
	h.logger.ErrorContext(ctx, "sms otp step failed", "op", op, "error", err)
	h.renderError(w, http.StatusInternalServerError, "Something went wrong. Try again.")
}

type devCodeResponse struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
	Note  string `json:"note"`
}

func (h *Handler) devCode(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		http.Error(w, "phone is required", http.StatusBadRequest)
		return
	}
	code, ok := h.cfg.DevCodes.Get(r.Context(), phone)
	if !ok {
		http.Error(w, "no code for phone", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(devCodeResponse{Phone: phone, Code: code, Note: devOTPNote}); err != nil {
		h.logger.WarnContext(r.Context(), "write dev code response failed", "error", err)
	}
}
