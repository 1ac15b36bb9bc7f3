package api

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const emptyTextMessage = "Please enter text to anonymize."

type findingGroup struct {
	Type     string
	Findings []anonymize.Finding
}

type pageData struct {
	Text       string
	Strategy   string
	Strategies []string
	Error      string
	Result     *anonymize.Result
	Groups     []findingGroup
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, pageData{Strategy: s.opts.DefaultStrategy})
}

// handleForm serves the browser form. Field names match the original web
// form: user_text and strategy_option.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, pageData{Strategy: s.opts.DefaultStrategy, Error: "could not read form: " + err.Error()})
		return
	}
	data := pageData{
		Text:     r.PostFormValue("user_text"),
		Strategy: s.strategyOrDefault(r.PostFormValue("strategy_option")),
	}
	if data.Text == "" {
		data.Error = emptyTextMessage
		s.render(w, http.StatusOK, data)
		return
	}

	res, err := s.anonymize(r.Context(), uuid.NewString(), data.Text, data.Strategy)
	if err != nil {
		status, code := classify(err)
		data.Error = publicMessage(err, code)
		if code == "detector_failure" {
			data.Error += ". Please try again later."
		}
		s.render(w, status, data)
		return
	}
	data.Result = res
	for _, t := range res.Findings.Types() {
		data.Groups = append(data.Groups, findingGroup{Type: t, Findings: res.Findings[t]})
	}
	s.render(w, http.StatusOK, data)
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	data.Strategies = strategyNames()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, "index", data); err != nil {
		slog.Error("api: render page", "err", err)
	}
}
