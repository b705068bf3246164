package api

import (
	"html/template"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gvso/nolas/internal/db"
	"github.com/gvso/nolas/internal/models"
	"github.com/gvso/nolas/internal/oauth2"
)

const (
	defaultIMAPPort = 993
	defaultSMTPPort = 587
)

// ConnectHandler serves the authorization form and processes its submission.
type ConnectHandler struct {
	pool       *pgxpool.Pool
	controller *oauth2.AuthorizationController
	form       *template.Template
}

// NewConnectHandler creates the handler for GET /auth and POST /process.
func NewConnectHandler(pool *pgxpool.Pool, controller *oauth2.AuthorizationController) *ConnectHandler {
	return &ConnectHandler{
		pool:       pool,
		controller: controller,
		form:       template.Must(template.New("authorize_form").Parse(authorizeFormHTML)),
	}
}

// AuthForm renders the authorization form after validating the OAuth2
// query parameters. Malformed and unknown client ids share one error text
// so the endpoint does not reveal which ids exist.
func (h *ConnectHandler) AuthForm(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	responseType := query.Get("response_type")
	if responseType == "" {
		responseType = "code"
	}
	if responseType != "code" {
		writeFormError(w, "Unsupported response_type. Must be 'code'.")
		return
	}

	redirectURI := query.Get("redirect_uri")
	if !oauth2.ValidRedirectURI(redirectURI) {
		writeFormError(w, "Invalid redirect_uri format.")
		return
	}

	app := h.lookupApp(r, query.Get("client_id"))
	if app == nil {
		writeFormError(w, "Invalid client_id.")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := h.form.Execute(w, map[string]string{
		"AppName":     app.Name,
		"ClientID":    query.Get("client_id"),
		"RedirectURI": redirectURI,
		"State":       query.Get("state"),
		"Scope":       query.Get("scope"),
		"LoginHint":   query.Get("login_hint"),
	})
	if err != nil {
		log.Printf("API: rendering authorization form: %v", err)
	}
}

// processResponse is the JSON result of a form submission. On success the
// caller redirects the browser to RedirectURL.
type processResponse struct {
	Success     bool   `json:"success"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Process validates the submitted credentials and answers with the redirect
// URL carrying the authorization code.
func (h *ConnectHandler) Process(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteJSON(w, http.StatusBadRequest, processResponse{Success: false, Error: "Malformed form body"})
		return
	}

	app := h.lookupApp(r, r.PostFormValue("client_id"))
	if app == nil {
		WriteJSON(w, http.StatusBadRequest, processResponse{Success: false, Error: "Invalid client_id"})
		return
	}

	redirectURI := r.PostFormValue("redirect_uri")
	if !oauth2.ValidRedirectURI(redirectURI) {
		WriteJSON(w, http.StatusBadRequest, processResponse{Success: false, Error: "Invalid redirect_uri format"})
		return
	}

	request := oauth2.AuthorizationRequest{
		RedirectURI: redirectURI,
		Scope:       r.PostFormValue("scope"),
		Email:       r.PostFormValue("email"),
		Password:    r.PostFormValue("password"),
		IMAPHost:    r.PostFormValue("imap_host"),
		IMAPPort:    formPort(r, "imap_port", defaultIMAPPort),
		SMTPHost:    r.PostFormValue("smtp_host"),
		SMTPPort:    formPort(r, "smtp_port", defaultSMTPPort),
	}
	if request.Email == "" || request.Password == "" || request.IMAPHost == "" {
		WriteJSON(w, http.StatusBadRequest, processResponse{Success: false, Error: "email, password and imap_host are required"})
		return
	}

	code, authErr := h.controller.ProcessAuthorization(r.Context(), app, request)
	if authErr != nil {
		status := http.StatusBadRequest
		if authErr.Kind == oauth2.KindInternal {
			status = http.StatusInternalServerError
		}
		WriteJSON(w, status, processResponse{Success: false, Error: authErr.Description})
		return
	}

	redirect := redirectURI + "?" + url.Values{
		"code":   {code},
		"state":  {r.PostFormValue("state")},
		"source": {"nolas"},
	}.Encode()

	WriteJSON(w, http.StatusOK, processResponse{Success: true, RedirectURL: redirect})
}

// lookupApp resolves a client_id to an app, returning nil for malformed and
// unknown ids alike.
func (h *ConnectHandler) lookupApp(r *http.Request, clientID string) *models.App {
	appUUID, err := uuid.Parse(clientID)
	if err != nil {
		return nil
	}
	app, err := db.GetAppByUUID(r.Context(), h.pool, appUUID)
	if err != nil {
		return nil
	}
	return app
}

func formPort(r *http.Request, field string, fallback int) int {
	value := r.PostFormValue(field)
	if value == "" {
		return fallback
	}
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fallback
	}
	return port
}

func writeFormError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	if err := template.Must(template.New("error").Parse(errorPageHTML)).Execute(w, message); err != nil {
		log.Printf("API: rendering error page: %v", err)
	}
}

const errorPageHTML = `<html><body><h1>Error: {{.}}</h1></body></html>`

const authorizeFormHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Connect your mailbox</title>
</head>
<body>
  <h1>{{.AppName}} wants to access your mailbox</h1>
  <form method="post" action="/process">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="state" value="{{.State}}">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <label>Email <input type="email" name="email" value="{{.LoginHint}}" required></label>
    <label>Password <input type="password" name="password" required></label>
    <label>IMAP host <input type="text" name="imap_host" required></label>
    <label>IMAP port <input type="number" name="imap_port" value="993"></label>
    <label>SMTP host <input type="text" name="smtp_host"></label>
    <label>SMTP port <input type="number" name="smtp_port" value="587"></label>
    <button type="submit">Authorize</button>
  </form>
</body>
</html>
`
