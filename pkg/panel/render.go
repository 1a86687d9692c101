package panel

import (
	"bytes"
	"fmt"
	"html/template"
)

var templates = template.Must(template.New("panel").Funcs(template.FuncMap{
	"describe": func(v View) description {
		title, text := Describe(v.Status)
		return description{Title: title, Text: text}
	},
}).Parse(`
{{- define "control" -}}
<div class="mb-panel{{if .Collapsed}} mb-collapsed{{end}}">
  <div class="mb-header">
    {{- if not .Collapsed}}<span class="mb-title">AI Notes Bot</span>{{end}}
    <button type="button" class="mb-toggle" data-action="toggle" aria-label="{{if .Collapsed}}Expand{{else}}Collapse{{end}}">&#129302;</button>
  </div>
  {{- if not .Collapsed}}
  <div class="mb-body">
    {{- with describe .}}
    <div class="mb-status mb-status-{{$.DisplayStatus}}">
      <h3 class="mb-status-title">{{.Title}}</h3>
      <div class="mb-status-text">{{.Text}}</div>
    </div>
    {{- end}}
    {{- if .ShowActiveTime}}
    <div class="mb-card mb-active-time">Active Time: {{.FormattedActiveTime}}</div>
    {{- end}}
    {{- if .Error}}
    <div class="mb-card mb-error">{{.Error}}</div>
    {{- end}}
    <div class="mb-actions">
      <button type="button" class="mb-button mb-primary" data-action="start"{{if .StartDisabled}} disabled{{end}}>{{.StartLabel}}</button>
      <button type="button" class="mb-button mb-secondary" data-action="stop"{{if .StopDisabled}} disabled{{end}}>Stop Bot</button>
    </div>
    {{- if or .User.FullName .User.Email}}
    <div class="mb-profile">
      <span class="mb-profile-name">{{or .User.FullName .User.Email}}</span>
      <button type="button" class="mb-link" data-action="logout">Logout</button>
    </div>
    {{- end}}
  </div>
  {{- end}}
</div>
{{- end -}}

{{- define "auth" -}}
<div class="mb-panel">
  <div class="mb-tabs">
    <button type="button" class="mb-tab{{if eq .Mode "login"}} mb-active{{end}}" data-action="show-login">Login</button>
    <button type="button" class="mb-tab{{if eq .Mode "signup"}} mb-active{{end}}" data-action="show-signup">Sign Up</button>
  </div>
  {{- if .Notice}}
  <div class="mb-card mb-notice">{{.Notice}}</div>
  {{- end}}
  {{- if .Error}}
  <div class="mb-card mb-error">{{.Error}}</div>
  {{- end}}
  {{- if eq .Mode "login"}}
  <form class="mb-form">
    <input type="email" name="email" placeholder="Email" required>
    <input type="password" name="password" placeholder="Password" required>
    <button type="submit" class="mb-button mb-primary" data-action="login"{{if .Loading}} disabled{{end}}>{{if .Loading}}Logging in...{{else}}Login{{end}}</button>
  </form>
  {{- else}}
  <form class="mb-form">
    <input type="text" name="full_name" placeholder="Your Name" required>
    <input type="email" name="email" placeholder="Email" required>
    <input type="password" name="password" placeholder="Password" required>
    <input type="password" name="confirmPassword" placeholder="Confirm Password" required>
    <button type="submit" class="mb-button mb-primary" data-action="signup"{{if .Loading}} disabled{{end}}>{{if .Loading}}Signing up...{{else}}Sign Up{{end}}</button>
  </form>
  {{- end}}
</div>
{{- end -}}
`))

// Render returns the inner HTML of the app root for v.
func Render(v View) (string, error) {
	name := "auth"
	if v.Authenticated {
		name = "control"
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s panel: %w", name, err)
	}
	return buf.String(), nil
}
