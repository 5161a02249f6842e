package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/registration"
)

// RegisterPage handles GET /.
// The first visit ends any session the identity provider already holds for
// the visitor. A visitor who finished registering is sent to the landing page.
func RegisterPage(visitors *Visitors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := visitors.Flow(w, r)
		view := flow.Snapshot()
		if view.SignedIn {
			http.Redirect(w, r, domain.RouteHome, http.StatusSeeOther)
			return
		}

		notice, alert := flow.TakeFlash()
		if err := flow.Init(r.Context()); err != nil {
			alert = registration.UserMessage(err, "Could not reach the sign-up service. Please reload the page.")
		}

		render(w, http.StatusOK, registerPage, newPageData("Sign up", flow.Snapshot(), notice, alert))
	}
}

// SignUp handles POST /signup.
func SignUp(visitors *Visitors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := visitors.Flow(w, r)
		draft := domain.Draft{
			Username: r.PostFormValue("username"),
			Email:    r.PostFormValue("email"),
			Password: r.PostFormValue("password"),
		}
		res, err := flow.SubmitRegistration(r.Context(), draft)
		finish(w, r, flow, res, err)
	}
}

// Verify handles POST /verify.
func Verify(visitors *Visitors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := visitors.Flow(w, r)
		res, err := flow.SubmitVerification(r.Context(), r.PostFormValue("code"))
		finish(w, r, flow, res, err)
	}
}

// OAuth handles POST /oauth/{provider}.
func OAuth(visitors *Visitors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := visitors.Flow(w, r)
		res, err := flow.SubmitOAuth(r.Context(), r.PathValue("provider"))
		finish(w, r, flow, res, err)
	}
}

// SSO handles GET /sso, where the identity provider returns the visitor after
// an OAuth handshake.
func SSO(visitors *Visitors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow := visitors.Flow(w, r)

		params := make(map[string]string, len(r.URL.Query()))
		for k := range r.URL.Query() {
			params[k] = r.URL.Query().Get(k)
		}
		res, err := flow.CompleteOAuth(r.Context(), params)
		finish(w, r, flow, res, err)
	}
}

// Home handles GET /home, the authenticated landing route.
func Home(visitors *Visitors) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow, ok := visitors.Lookup(r)
		if !ok || flow.Session() == nil {
			http.Redirect(w, r, domain.RouteRegister, http.StatusSeeOther)
			return
		}
		notice, alert := flow.TakeFlash()
		render(w, http.StatusOK, homePage, newPageData("Home", flow.Snapshot(), notice, alert))
	}
}

// finish applies the Post/Redirect/Get step: the outcome is stored as a
// one-shot flash on the flow and the visitor is redirected.
func finish(w http.ResponseWriter, r *http.Request, flow *registration.Flow, res registration.Result, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		flow.Flash("", registration.Message(err))
		http.Redirect(w, r, domain.RouteRegister, http.StatusSeeOther)
		return
	}

	flow.Flash(res.Notice, "")
	switch {
	case res.Redirect != "":
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
	case res.Navigate != "":
		http.Redirect(w, r, res.Navigate, http.StatusSeeOther)
	default:
		http.Redirect(w, r, domain.RouteRegister, http.StatusSeeOther)
	}
}
