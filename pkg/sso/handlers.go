package sso

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/observability"
)

// Handlers exposes the SSO login flow over HTTP. Routing and cookie parsing
// live here; all decisions live in Flow.
type Handlers struct {
	flow   *Flow
	logger *observability.Logger
}

// NewHandlers creates the SSO HTTP surface.
func NewHandlers(flow *Flow, logger *observability.Logger) *Handlers {
	return &Handlers{flow: flow, logger: logger}
}

// RegisterRoutes registers the SSO routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login/sso/redirect", h.redirectToSSO).Methods("GET")
	router.HandleFunc(IdPPickerPath, h.listIdPs).Methods("GET")
	router.HandleFunc("/sso/callback/{provider}", h.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/sso/username/availability", h.checkUsernameAvailability).Methods("GET")
	router.HandleFunc("/sso/username", h.submitUsername).Methods("POST")
}

// redirectToSSO handles GET /login/sso/redirect?redirectUrl=...
func (h *Handlers) redirectToSSO(w http.ResponseWriter, r *http.Request) {
	clientRedirectURL := r.URL.Query().Get("redirectUrl")

	target, err := h.flow.Registry().BeginLogin(r, clientRedirectURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// idpSummary is one entry on the provider picker surface.
type idpSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	LoginURL    string `json:"login_url"`
}

// listIdPs handles GET /sso/pick_idp. The picker UI itself is owned by the
// routing layer; this serves it the choice of providers.
func (h *Handlers) listIdPs(w http.ResponseWriter, r *http.Request) {
	clientRedirectURL := r.URL.Query().Get("redirectUrl")

	providers := h.flow.Registry().All()
	out := make([]idpSummary, 0, len(providers))
	for _, p := range providers {
		target, err := p.BeginAuth(r, clientRedirectURL)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, idpSummary{
			ID:          p.ID(),
			DisplayName: p.DisplayName(),
			LoginURL:    target,
		})
	}

	httputil.WriteSuccess(w, map[string]interface{}{"identity_providers": out})
}

// handleCallback handles the provider authentication callback and runs login
// completion with the provider's default attribute mapper.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]

	p, ok := h.flow.Registry().Get(providerID)
	if !ok {
		httputil.WriteNotFoundError(w, "unknown identity provider")
		return
	}
	cp, ok := p.(CallbackProvider)
	if !ok {
		httputil.WriteValidationError(w, "identity provider does not use this callback")
		return
	}

	assertion, err := cp.CompleteAuth(r)
	if err != nil {
		h.logger.WithError(err).WithField("provider", providerID).
			Warn("SSO callback authentication failed")
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	err = h.flow.CompleteLogin(w, r, providerID, assertion.RemoteUserID,
		assertion.ClientRedirectURL, DefaultAttributeMapper(assertion), nil, nil)
	if err != nil {
		h.writeError(w, r, err)
	}
}

// checkUsernameAvailability handles GET /sso/username/availability?username=...
// It requires the correlation cookie and never reserves the name.
func (h *Handlers) checkUsernameAvailability(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	available, err := h.flow.CheckUsernameAvailability(r.Context(), r.URL.Query().Get("username"), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"available": available})
}

// submitUsername handles POST /sso/username with a form-encoded "username".
func (h *Handlers) submitUsername(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form body")
		return
	}

	if err := h.flow.SubmitUsername(w, r, r.PostFormValue("username"), sessionID); err != nil {
		h.writeError(w, r, err)
	}
}

// sessionID extracts the username-mapping session id from the correlation
// cookie, writing an unknown-session error if it is missing.
func (h *Handlers) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteErrorCode(w, ErrUnknownSession.StatusCode, ErrUnknownSession.Code, ErrUnknownSession.Message)
		return "", false
	}
	return cookie.Value, true
}

// writeError translates flow errors onto the wire. Redirect signals become
// 302s with their cookies applied; typed errors keep their status and
// machine-readable code; anything else is an internal fault.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var redirectErr *RedirectError
	if errors.As(err, &redirectErr) {
		for _, c := range redirectErr.Cookies {
			http.SetCookie(w, c)
		}
		http.Redirect(w, r, redirectErr.Location, http.StatusFound)
		return
	}

	var ssoErr *Error
	if errors.As(err, &ssoErr) {
		httputil.WriteErrorCode(w, ssoErr.StatusCode, ssoErr.Code, ssoErr.Message)
		return
	}

	var mappingErr *MappingError
	if errors.As(err, &mappingErr) {
		httputil.WriteErrorCode(w, http.StatusBadRequest, CodeMappingFailed, mappingErr.Message)
		return
	}

	h.logger.WithError(err).Error("SSO request failed")
	httputil.WriteInternalError(w, errors.New("internal server error"))
}
