package api

import (
	"errors"
	"log/slog"
	"net/http"

	"imagetovideo/internal/auth"
	"imagetovideo/internal/email"
	"imagetovideo/internal/ledger"
	"imagetovideo/internal/links"
)

type AuthHandler struct {
	ledger        *ledger.Ledger
	tokens        *auth.TokenService
	mailer        email.Sender
	baseURL       string
	secureCookie  bool
	publicBaseURL string
	keyPrefix     string
}

func NewAuthHandler(
	l *ledger.Ledger,
	tokens *auth.TokenService,
	mailer email.Sender,
	baseURL string,
	secureCookie bool,
	publicBaseURL string,
	keyPrefix string,
) *AuthHandler {
	return &AuthHandler{
		ledger:        l,
		tokens:        tokens,
		mailer:        mailer,
		baseURL:       baseURL,
		secureCookie:  secureCookie,
		publicBaseURL: publicBaseURL,
		keyPrefix:     keyPrefix,
	}
}

type SessionResponse struct {
	Success bool      `json:"success"`
	User    *UserView `json:"user,omitempty"`
}

type MagicLinkResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GET /session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	email := GetEmail(r)
	if email == "" {
		writeJSON(w, http.StatusOK, SessionResponse{Success: false})
		return
	}

	user, err := h.ledger.GetUser(r.Context(), email)
	if errors.Is(err, ledger.ErrUserNotFound) {
		writeJSON(w, http.StatusOK, SessionResponse{Success: true, User: emptyUserView(email)})
		return
	}
	if err != nil {
		slog.Error("error loading session user", "component", "api", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		User:    userViewFromModel(user, h.publicBaseURL, h.keyPrefix),
	})
}

// GET /magic-link serves both halves of the flow: ?email= mails a link and
// ?token= redeems it.
func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("token"); token != "" {
		h.redeem(w, r, token)
		return
	}
	h.request(w, r)
}

func (h *AuthHandler) request(w http.ResponseWriter, r *http.Request) {
	addr, err := normalizeAndValidateEmail(r.URL.Query().Get("email"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	token, _, err := h.tokens.Issue(addr)
	if err != nil {
		slog.Error("error issuing magic link token", "component", "api", "error", err)
		internalError(w)
		return
	}

	link := links.MagicLink(h.baseURL, token)
	if err := h.mailer.SendMagicLink(r.Context(), addr, link, h.tokens.TTL()); err != nil {
		// The reply stays the same so the endpoint does not reveal which
		// addresses can receive mail.
		slog.Error("error sending magic link email", "component", "api", "error", err)
	}

	writeJSON(w, http.StatusOK, MagicLinkResponse{
		Success: true,
		Message: "If the address is valid, a sign-in link is on its way",
	})
}

func (h *AuthHandler) redeem(w http.ResponseWriter, r *http.Request, token string) {
	addr, err := h.tokens.Verify(token)
	if err != nil {
		clearSessionCookie(w, h.secureCookie)
		http.Redirect(w, r, "/?auth=invalid", http.StatusFound)
		return
	}

	setSessionCookie(w, token, h.tokens.TTL(), h.secureCookie)
	slog.Info("magic link redeemed", "component", "api", "email", addr)
	http.Redirect(w, r, "/", http.StatusFound)
}

// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, h.secureCookie)
	http.Redirect(w, r, "/", http.StatusFound)
}
