package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/registration"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	funcs = template.FuncMap{
		// A Caser keeps state, so each call gets its own.
		"title": func(s string) string { return cases.Title(language.English).String(s) },
	}

	registerPage = mustPage("register.html")
	homePage     = mustPage("home.html")
)

func mustPage(name string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

type pageData struct {
	Title  string
	Notice string
	Alert  string

	Draft          domain.Draft
	Flags          domain.Flags
	AwaitingCode   bool
	LockInputs     bool
	MinPassword    int
	OAuthProviders []string
	UserID         string
}

func newPageData(title string, view registration.View, notice, alert string) pageData {
	return pageData{
		Title:          title,
		Notice:         notice,
		Alert:          alert,
		Draft:          view.Draft,
		Flags:          view.Flags,
		AwaitingCode:   view.AwaitingCode,
		LockInputs:     view.Flags.Submitting || view.AwaitingCode,
		MinPassword:    registration.MinPasswordLength,
		OAuthProviders: view.OAuthProviders,
		UserID:         view.UserID,
	}
}

// render executes the page into a buffer first so a template error never
// leaves a half-written response.
func render(w http.ResponseWriter, status int, page *template.Template, data pageData) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		slog.Error("rendering page", "page", page.Name(), "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
