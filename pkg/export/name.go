package export

import (
	"reflect"
	"strings"
	"unicode"
)

// ResolveName picks the file name for an export.
//
// An explicit name is returned verbatim, then the exporter's declared name.
// Otherwise the name is synthesised as "<kebab(typeTag)>-export.<ext>" using
// the extension of the already resolved format f. An empty type tag yields
// "export.<ext>".
func ResolveName(explicit, declared, typeTag string, f Format) string {
	if explicit != "" {
		return explicit
	}
	if declared != "" {
		return declared
	}

	tag := Kebab(typeTag)
	if tag == "" {
		return "export." + f.Extension()
	}
	return tag + "-export." + f.Extension()
}

// TypeTag returns the identity used to synthesise file names for e.
// A declared WithTypeTag wins; otherwise it is the Go type name of e with any
// "Exporter" or "Export" suffix removed, so UsersExport yields "Users".
func TypeTag(e Exporter) string {
	if t, ok := e.(WithTypeTag); ok {
		return t.TypeTag()
	}
	if e == nil {
		return ""
	}

	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	name := t.Name()
	// Instantiated generic types carry their type arguments in the name.
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	for _, suffix := range []string{"Exporter", "Export"} {
		if trimmed := strings.TrimSuffix(name, suffix); trimmed != name {
			return trimmed
		}
	}
	return name
}

// Kebab converts an identifier such as "UserHTTPLogs" to "user-http-logs".
// Spaces, underscores and dots are treated as word separators.
func Kebab(s string) string {
	runes := []rune(strings.TrimSpace(s))
	var sb strings.Builder
	sb.Grow(len(runes) + 4)

	dash := func() {
		str := sb.String()
		if len(str) > 0 && str[len(str)-1] != '-' {
			sb.WriteByte('-')
		}
	}

	for i, r := range runes {
		switch {
		case r == ' ' || r == '_' || r == '-' || r == '.':
			dash()
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					dash()
				}
			}
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(r)
		}
	}

	return strings.Trim(sb.String(), "-")
}
