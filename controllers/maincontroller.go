package controllers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/russross/blackfriday/v2"
	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/middleware"
)

const staticCacheControl = "public, max-age=31536000"

type page struct {
	Title string
	Body  template.HTML
}

var legalDocuments = map[string]string{
	"terms_of_service": "Terms of Service",
	"privacy_policy":   "Privacy Policy",
}

// MainController serves the chat page, the legal documents, embedded static
// files and the health probe.
type MainController struct {
	DBManager *db.DBManager
	Log       logrus.FieldLogger

	index     *template.Template
	page      *template.Template
	documents map[string]page
	static    http.Handler
}

// NewMainController parses the templates and renders the markdown documents
// from assets once.
func NewMainController(dbm *db.DBManager, assets fs.FS, log logrus.FieldLogger) (*MainController, error) {
	index, err := template.ParseFS(assets, "templates/layout.html", "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	pageTmpl, err := template.ParseFS(assets, "templates/layout.html", "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}

	documents := make(map[string]page, len(legalDocuments))
	for name, title := range legalDocuments {
		source, err := fs.ReadFile(assets, "content/"+name+".md")
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		documents[name] = page{Title: title, Body: template.HTML(blackfriday.Run(source))}
	}

	static, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, err
	}

	return &MainController{
		DBManager: dbm,
		Log:       log,
		index:     index,
		page:      pageTmpl,
		documents: documents,
		static:    http.StripPrefix("/static/", http.FileServer(http.FS(static))),
	}, nil
}

func (mController *MainController) Index(w http.ResponseWriter, r *http.Request) {
	mController.render(w, r, mController.index, page{Title: "JANE - Job Assistance and Navigation Expert"})
}

// Document serves one of the markdown legal pages, named by the route.
func (mController *MainController) Document(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := mController.documents[name]
		if !ok {
			mController.NotFound(w, r)
			return
		}
		mController.render(w, r, mController.page, doc)
	}
}

// NotFound is the fallback for unmatched routes.
func (mController *MainController) NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, mController.Log, apperrors.NotFound("The requested resource was not found"))
}

func (mController *MainController) render(w http.ResponseWriter, r *http.Request, tmpl *template.Template, data page) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		middleware.WriteError(w, r, mController.Log, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (mController *MainController) Static(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", staticCacheControl)
	mController.static.ServeHTTP(w, r)
}

func (mController *MainController) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := mController.DBManager.Ping(ctx); err != nil {
		mController.Log.WithError(err).Error("Health check failed")
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": "ok",
	})
}
