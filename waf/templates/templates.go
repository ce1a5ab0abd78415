package templates

import (
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"rhinoguard/waf/verdict"
)

const blockPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.StatusCode}} {{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .RetryAfter}}<p>Retry after {{.RetryAfter}} seconds.</p>{{end}}
{{if .RequestID}}<p><small>Request ID: {{.RequestID}}</small></p>{{end}}
</body>
</html>
`

var tmpl = template.Must(template.New("block").Parse(blockPage))

// BlockData is everything a block page may show. It deliberately carries
// no client or rule details.
type BlockData struct {
	StatusCode int
	Reason     string
	Title      string
	Message    string
	RetryAfter int
	RequestID  string
	Timestamp  string
}

type jsonBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Pages renders block responses, using an operator supplied HTML page for
// the reasons that have one. A nil *Pages uses the built-in page throughout.
type Pages struct {
	custom map[verdict.Reason]*template.Template
}

// LoadPages parses one template file per reason code, e.g.
// {"rate_exceeded": "/etc/rhinoguard/429.html"}
func LoadPages(paths map[string]string) (*Pages, error) {
	p := &Pages{custom: make(map[verdict.Reason]*template.Template, len(paths))}
	for code, path := range paths {
		reason := verdict.Reason(code)
		if !reason.Blocked() {
			return nil, fmt.Errorf("block page for %q: not a block reason", code)
		}
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("block page for %s: %w", code, err)
		}
		t, err := template.New(code).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("block page for %s: %w", code, err)
		}
		p.custom[reason] = t
	}
	return p, nil
}

func (p *Pages) template(reason verdict.Reason) *template.Template {
	if p != nil {
		if t, ok := p.custom[reason]; ok {
			return t
		}
	}
	return tmpl
}

func titleFor(reason verdict.Reason) (string, string) {
	switch reason {
	case verdict.RateExceeded:
		return "Too Many Requests", "You have sent too many requests in a short time."
	case verdict.Banned:
		return "Access Temporarily Denied", "Requests from your address are temporarily blocked."
	case verdict.PayloadTooLarge:
		return "Payload Too Large", "The request body exceeds the allowed size."
	case verdict.SuspiciousSignature:
		return "Request Blocked", "Your request matched a pattern that is not allowed."
	default:
		return "Internal Server Error", "The server could not complete your request."
	}
}

// Render writes the response for a blocked or failed request. Headers
// already set on w are kept. JSON is sent when the client asks for it.
func (p *Pages) Render(w http.ResponseWriter, r *http.Request, reason verdict.Reason, retryAfter time.Duration, requestID string) {
	status := reason.Status()
	title, message := titleFor(reason)

	secs := 0
	if retryAfter > 0 {
		// round up so clients never retry a moment too early
		secs = int((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Del("Content-Length")

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(jsonBody{
			Error:      string(reason),
			Message:    message,
			RetryAfter: secs,
			RequestID:  requestID,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	data := BlockData{
		StatusCode: status,
		Reason:     string(reason),
		Title:      title,
		Message:    message,
		RetryAfter: secs,
		RequestID:  requestID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.template(reason).Execute(w, data); err != nil {
		// headers are gone already, fall back to the bare message
		_, _ = w.Write([]byte(message))
	}
}

func wantsJSON(r *http.Request) bool {
	if r == nil {
		return false
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
