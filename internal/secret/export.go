package secret

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// EnvVars maps a revealed credential to environment variables named after
// the credential, e.g. DB_PROD_USERNAME and DB_PROD_PASSWORD.
func EnvVars(r *Revealed) map[string]string {
	base := envName(r.Name)
	vars := map[string]string{
		base + "_USERNAME": r.Username,
		base + "_PASSWORD": r.Secret,
	}
	if r.TOTPSecret != "" {
		vars[base+"_TOTP_SECRET"] = r.TOTPSecret
	}
	return vars
}

func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" || unicode.IsDigit(rune(s[0])) {
		s = "CREDENTIAL_" + s
	}
	return s
}

// ExportDotEnv renders vars in .env format, sorted by key.
func ExportDotEnv(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v := vars[k]
		if needsQuoting(v) {
			fmt.Fprintf(&buf, "%s=%q\n", k, v)
		} else {
			fmt.Fprintf(&buf, "%s=%s\n", k, v)
		}
	}
	return buf.String()
}

func needsQuoting(s string) bool {
	return strings.ContainsAny(s, " \t\n\"'\\#$`")
}
