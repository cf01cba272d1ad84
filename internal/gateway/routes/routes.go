// Package routes declares the gateway's public surface: which backend serves
// each public path, how the path is rewritten upstream, and what
// authentication the route demands.
package routes

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthMode is the authentication a route demands before forwarding.
type AuthMode string

const (
	AuthRequired AuthMode = "required"
	AuthOptional AuthMode = "optional"
	AuthNone     AuthMode = "none"
)

// Schema names the typed request body a route validates before forwarding.
// SchemaPassthrough forwards the body untouched.
type Schema string

const (
	SchemaPassthrough Schema = ""
	SchemaRegister    Schema = "register"
	SchemaLogin       Schema = "login"
	SchemaProfile     Schema = "profile"
	SchemaChatbot     Schema = "chatbot"
)

// Backend names.
const (
	BackendUsers              = "users"
	BackendChannels           = "channels"
	BackendMessages           = "messages"
	BackendFiles              = "files"
	BackendModeration         = "moderation"
	BackendPresence           = "presence"
	BackendSearch             = "search"
	BackendChatbotWikipedia   = "chatbot-wikipedia"
	BackendChatbotProgramming = "chatbot-programming"
)

// Route maps one public method and path pattern to a backend path.
// Pattern and Upstream use chi-style {param} segments; every parameter in
// Upstream must appear in Pattern.
type Route struct {
	Backend  string
	Method   string
	Pattern  string
	Upstream string
	Auth     AuthMode
	Schema   Schema
}

// Backend describes a backend's health endpoint, both as exposed by the
// gateway and as served upstream.
type Backend struct {
	Name         string
	PublicHealth string
	HealthPath   string
}

// Table is the gateway route table.
type Table struct {
	Backends []Backend
	Routes   []Route
}

// UpstreamPath substitutes the route's parameters into its upstream template.
// Values are path-escaped.
func (r Route) UpstreamPath(param func(name string) string) (string, error) {
	var b strings.Builder
	rest := r.Upstream
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("route %s %s: unterminated parameter in %q", r.Method, r.Pattern, r.Upstream)
		}
		name := rest[open+1 : open+end]
		value := param(name)
		if value == "" {
			return "", fmt.Errorf("route %s %s: missing parameter %q", r.Method, r.Pattern, name)
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}
}

// Validate checks that every route and health endpoint names a configured
// backend and that upstream parameters are bound by the public pattern.
func (t Table) Validate(configured map[string]string) error {
	for _, b := range t.Backends {
		if _, ok := configured[b.Name]; !ok {
			return fmt.Errorf("backend %q has no base URL", b.Name)
		}
	}
	for _, r := range t.Routes {
		if _, ok := configured[r.Backend]; !ok {
			return fmt.Errorf("route %s %s: backend %q has no base URL", r.Method, r.Pattern, r.Backend)
		}
		switch r.Auth {
		case AuthRequired, AuthOptional, AuthNone:
		default:
			return fmt.Errorf("route %s %s: unknown auth mode %q", r.Method, r.Pattern, r.Auth)
		}
		for _, name := range params(r.Upstream) {
			if !strings.Contains(r.Pattern, "{"+name+"}") {
				return fmt.Errorf("route %s %s: upstream parameter %q not in pattern", r.Method, r.Pattern, name)
			}
		}
	}
	return nil
}

func params(template string) []string {
	var out []string
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			return out
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			return out
		}
		out = append(out, template[open+1:open+end])
		template = template[open+end+1:]
	}
}
