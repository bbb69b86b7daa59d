// Package web renders the interactive Erlang-C calculator page.
//
// The page is stateless: the active tab travels in a hidden form field and
// comes back in View, so nothing is remembered between requests.
package web

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/queuelab/queuelab/pkg/erlangc"
	"github.com/queuelab/queuelab/server/internal/form"
	"github.com/queuelab/queuelab/server/internal/metrics"
)

// Tabs of the calculator page.
const (
	TabCalculation = "calculation"
	TabFormulas    = "formulas"
	TabAbout       = "about"
)

// FieldTab is the hidden form field carrying the active tab.
const FieldTab = "tab"

// Default inputs shown on first load.
const (
	DefaultInterarrival = "4.0"
	DefaultServiceTime  = "3.0"
)

//go:embed templates/index.html
var templateFS embed.FS

var page = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"f4":      func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) },
	"percent": func(v float64) string { return strconv.FormatFloat(v*100, 'f', 2, 64) + "%" },
}).ParseFS(templateFS, "templates/index.html"))

// View is everything the template needs for one render.
type View struct {
	Interarrival string
	ServiceTime  string
	Servers      string
	MaxServers   int
	Tab          string

	Result *Result
	Error  string
	Kind   string // erlangc kind of Error
}

// Result is a successful evaluation and its derivation.
type Result struct {
	Metrics erlangc.Metrics
	Steps   []erlangc.Step
}

// ActiveTab maps a submitted tab name to a known tab. Unknown or empty
// values select the calculation tab.
func ActiveTab(raw string) string {
	switch raw {
	case TabCalculation, TabFormulas, TabAbout:
		return raw
	default:
		return TabCalculation
	}
}

// Handler serves GET and POST on "/".
type Handler struct {
	defaults form.Defaults
	metrics  *metrics.Registry
}

// New returns a Handler using d for the server count. m may be nil.
func New(d form.Defaults, m *metrics.Registry) *Handler {
	return &Handler{defaults: d, metrics: m}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.render(w, http.StatusOK, h.defaultView())
	case http.MethodPost:
		view, code := h.calculate(r)
		h.render(w, code, view)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) defaultView() View {
	return View{
		Interarrival: DefaultInterarrival,
		ServiceTime:  DefaultServiceTime,
		Servers:      strconv.Itoa(h.defaults.ServerCount()),
		MaxServers:   h.defaults.MaxServers,
		Tab:          TabCalculation,
	}
}

// calculate evaluates a submitted form. The submitted strings are echoed
// back so the user can correct them.
func (h *Handler) calculate(r *http.Request) (View, int) {
	in, err := form.FromRequest(r, h.defaults)
	view := View{
		Interarrival: r.PostForm.Get(form.FieldInterarrival),
		ServiceTime:  r.PostForm.Get(form.FieldServiceTime),
		Servers:      r.PostForm.Get(form.FieldServers),
		MaxServers:   h.defaults.MaxServers,
		Tab:          ActiveTab(r.PostForm.Get(FieldTab)),
	}
	if view.Servers == "" {
		view.Servers = strconv.Itoa(h.defaults.ServerCount())
	}

	var m erlangc.Metrics
	if err == nil {
		m, err = erlangc.Evaluate(in)
	}
	h.count(err)

	var (
		verr *erlangc.ValidationError
		ierr *erlangc.InstabilityError
	)
	switch {
	case err == nil:
		view.Result = &Result{Metrics: m, Steps: m.Steps()}
		return view, http.StatusOK
	case errors.As(err, &verr):
		view.Error, view.Kind = err.Error(), erlangc.KindValidation
		return view, http.StatusBadRequest
	case errors.As(err, &ierr):
		view.Error, view.Kind = err.Error(), erlangc.KindInstability
		return view, http.StatusUnprocessableEntity
	default:
		slog.Error("web: evaluate", "err", err)
		view.Error, view.Kind = "internal error", erlangc.KindInternal
		return view, http.StatusInternalServerError
	}
}

func (h *Handler) count(err error) {
	if h.metrics == nil {
		return
	}
	switch erlangc.Kind(err) {
	case "":
		h.metrics.Evaluation(metrics.OutcomeOK)
	case erlangc.KindInstability:
		h.metrics.Evaluation(metrics.OutcomeInstability)
	default:
		h.metrics.Evaluation(metrics.OutcomeValidation)
	}
}

// render buffers the template so a failed execution can still send a 500.
func (h *Handler) render(w http.ResponseWriter, code int, v View) {
	var buf bytes.Buffer
	if err := page.Execute(&buf, v); err != nil {
		slog.Error("web: render", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("web: write page", "err", err)
	}
}
