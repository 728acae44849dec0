package repocache

import (
	"net/url"
	"strings"
)

// defaultCredentialUser is the userinfo name used when a Credential has no
// Username. Both GitHub and GitLab accept it for token authentication.
const defaultCredentialUser = "oauth2"

// Credential authenticates https clones against one host.
type Credential struct {
	Username string
	Token    string
}

// CredentialProvider returns the credential for a git host, if any. Hosts
// are matched by hostname without port.
type CredentialProvider interface {
	Credential(host string) (Credential, bool)
}

// StaticCredentials is a CredentialProvider backed by a fixed host map.
type StaticCredentials map[string]Credential

// Credential implements CredentialProvider.
func (s StaticCredentials) Credential(host string) (Credential, bool) {
	c, ok := s[strings.ToLower(host)]
	if !ok || c.Token == "" {
		return Credential{}, false
	}
	return c, true
}

// authURL returns source with the provider's credential injected as URL
// userinfo, and the injected token (empty when nothing was injected). Only
// http(s) URLs without existing userinfo are rewritten.
func authURL(source string, provider CredentialProvider) (string, string) {
	if provider == nil {
		return source, ""
	}
	u, err := url.Parse(source)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.User != nil {
		return source, ""
	}
	cred, ok := provider.Credential(u.Hostname())
	if !ok {
		return source, ""
	}
	user := cred.Username
	if user == "" {
		user = defaultCredentialUser
	}
	u.User = url.UserPassword(user, cred.Token)
	return u.String(), cred.Token
}

// RedactURL strips userinfo from URL-shaped sources. Other forms, such as
// scp-like "git@host:path" or local paths, are returned unchanged.
func RedactURL(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil || u.Host == "" {
		return source
	}
	u.User = nil
	return u.String()
}

// redactSecret replaces every occurrence of secret in s.
func redactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}
