package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/containr/signup/internal/registration"
	"github.com/containr/signup/internal/seal"
)

// VisitorCookie names the cookie carrying the sealed flow id.
const VisitorCookie = "containr_visitor"

// Visitors maps a browser to its registration flow through a sealed cookie.
type Visitors struct {
	store  *registration.Store
	codec  *seal.Codec
	secure bool
	logger *slog.Logger
}

// NewVisitors creates a visitor lookup. Cookies are marked Secure when
// publicURL is served over https.
func NewVisitors(store *registration.Store, codec *seal.Codec, publicURL string, logger *slog.Logger) *Visitors {
	if logger == nil {
		logger = slog.Default()
	}
	return &Visitors{
		store:  store,
		codec:  codec,
		secure: strings.HasPrefix(publicURL, "https://"),
		logger: logger,
	}
}

// Flow returns the visitor's flow, starting a new one when the cookie is
// missing, tampered with, expired or refers to a dropped flow. The cookie is
// re-issued on every call so its lifetime slides with the flow's.
func (v *Visitors) Flow(w http.ResponseWriter, r *http.Request) *registration.Flow {
	if f, ok := v.lookup(r); ok {
		v.setCookie(w, f.ID())
		return f
	}
	f := v.store.Create()
	v.setCookie(w, f.ID())
	return f
}

// Lookup returns the visitor's flow without creating one.
func (v *Visitors) Lookup(r *http.Request) (*registration.Flow, bool) {
	return v.lookup(r)
}

func (v *Visitors) lookup(r *http.Request) (*registration.Flow, bool) {
	c, err := r.Cookie(VisitorCookie)
	if err != nil {
		return nil, false
	}
	payload, err := v.codec.Open(c.Value)
	if err != nil {
		v.logger.Debug("discarding visitor cookie", "error", err)
		return nil, false
	}
	return v.store.Get(payload.FlowID)
}

func (v *Visitors) setCookie(w http.ResponseWriter, flowID string) {
	value, err := v.codec.Seal(flowID)
	if err != nil {
		v.logger.Error("sealing visitor cookie", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(v.codec.Lifetime().Seconds()),
		HttpOnly: true,
		Secure:   v.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
