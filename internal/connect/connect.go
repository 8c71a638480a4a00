// Package connect resolves where a run connects to. It never dials; a
// resolved Target only describes the session that db.Dialer will open.
//
// Precedence, highest first:
//
//	connection_string > connection.{server,port,...} > DB_* env vars > defaults
//
// The default host is "localhost", or the compose service name "postgres"
// when the run is containerized (config flag or DOCKER_ENV=true).
package connect

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"cursoragent/internal/config"
)

// Built-in fallbacks used when neither config nor environment set a field.
const (
	DefaultHost          = "localhost"
	DefaultContainerHost = "postgres"
	DefaultPort          = 5432
	DefaultDatabase      = "atcdb"
	DefaultUser          = "atc"
	DefaultPassword      = "atc_pass"
)

// Target is a resolved connection descriptor. DSN carries the password;
// use Redacted for anything that is logged or printed.
type Target struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	SSLMode  string

	// FromString is true when DSN came verbatim from connection_string.
	FromString bool
}

// Resolve builds a Target from cfg, consulting getenv for DB_HOST, DB_PORT,
// DB_NAME, DB_USER, DB_PASS and DOCKER_ENV. It fails only when an explicit
// connection string carries credentials and cannot be parsed.
func Resolve(cfg config.Config, getenv func(string) string) (Target, error) {
	if s := strings.TrimSpace(cfg.ConnectionString); s != "" {
		return fromString(s)
	}

	var c config.Connection
	if cfg.Connection != nil {
		c = *cfg.Connection
	}

	envOr := func(v, key, d string) string {
		if v != "" {
			return v
		}
		if e := getenv(key); e != "" {
			return e
		}
		return d
	}

	defaultHost := DefaultHost
	if cfg.Containerized || strings.EqualFold(getenv("DOCKER_ENV"), "true") {
		defaultHost = DefaultContainerHost
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
		if e := getenv("DB_PORT"); e != "" {
			if p, err := strconv.Atoi(e); err == nil {
				port = p
			}
		}
	}

	sslMode := "disable"
	if c.SSL {
		sslMode = "require"
	}

	t := Target{
		Host:     envOr(c.Server, "DB_HOST", defaultHost),
		Port:     port,
		Database: envOr(c.Database, "DB_NAME", DefaultDatabase),
		User:     envOr(c.Username, "DB_USER", DefaultUser),
		SSLMode:  sslMode,
	}
	password := envOr(c.Password, "DB_PASS", DefaultPassword)

	t.DSN = keywordDSN([][2]string{
		{"dbname", t.Database},
		{"user", t.User},
		{"password", password},
		{"host", t.Host},
		{"port", strconv.Itoa(t.Port)},
		{"sslmode", t.SSLMode},
	})
	return t, nil
}

// fromString accepts s verbatim. Strings carrying credentials must parse;
// others are kept even when pgx cannot read them so that the failure
// surfaces at connect time.
func fromString(s string) (Target, error) {
	t := Target{DSN: s, FromString: true}

	pc, err := pgx.ParseConfig(s)
	if err != nil {
		if hasCredentials(s) {
			return Target{}, &config.ConfigurationError{
				Issues: []config.Issue{{
					Severity: config.SeverityError,
					Path:     "connection_string",
					Message:  "cannot parse connection string",
				}},
				Err: fmt.Errorf("parse connection string: %w", err),
			}
		}
		return t, nil
	}

	t.Host = pc.Host
	t.Port = int(pc.Port)
	t.Database = pc.Database
	t.User = pc.User
	t.SSLMode = sslModeOf(pc)
	return t, nil
}

// sslModeOf approximates the libpq sslmode pgx parsed: no TLS is
// "disable", TLS with a plaintext fallback is "prefer", TLS only is "require".
func sslModeOf(pc *pgx.ConnConfig) string {
	if pc.TLSConfig == nil {
		return "disable"
	}
	for _, fb := range pc.Fallbacks {
		if fb.TLSConfig == nil {
			return "prefer"
		}
	}
	return "require"
}

var credentialKeyRE = regexp.MustCompile(`(?i)(^|\s)(user|password)\s*=`)

func hasCredentials(s string) bool {
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.User != nil {
		return true
	}
	return credentialKeyRE.MatchString(s)
}

// keywordDSN renders libpq keyword/value pairs, quoting values that contain
// spaces, quotes or backslashes.
func keywordDSN(kv [][2]string) string {
	parts := make([]string, 0, len(kv))
	for _, p := range kv {
		parts = append(parts, p[0]+"="+quoteValue(p[1]))
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\\t\n") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

var passwordKVRE = regexp.MustCompile(`(?i)(password\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// Redacted returns a printable description of t with the password masked.
func (t Target) Redacted() string {
	if t.FromString {
		if u, err := url.Parse(t.DSN); err == nil && u.Scheme != "" {
			return u.Redacted()
		}
		return passwordKVRE.ReplaceAllString(t.DSN, "${1}xxxxx")
	}
	return keywordDSN([][2]string{
		{"dbname", t.Database},
		{"user", t.User},
		{"host", t.Host},
		{"port", strconv.Itoa(t.Port)},
		{"sslmode", t.SSLMode},
	})
}
