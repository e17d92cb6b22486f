package proxygen

import (
	"strconv"
	"strings"
	"unicode"
)

// MethodName converts a Go method name to the name clients call it by.
// e.g., "WriteString" → "write_string", "ReadAll" → "read_all",
// "URL" → "url", "ServeHTTP" → "serve_http"
func MethodName(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && !unicode.IsUpper(runes[i-1])
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PackageName returns the name of a generated package for importPath.
// e.g., "strings" → "orange_strings", "net/http" → "orange_http",
// "github.com/x/go-yaml" → "orange_go_yaml"
func PackageName(importPath string) string {
	parts := strings.Split(importPath, "/")
	last := parts[len(parts)-1]
	var b strings.Builder
	b.WriteString("orange_")
	for _, r := range last {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// identifiers used by generated code that parameters must not shadow.
var reserved = map[string]bool{
	"self": true, "args": true, "kwargs": true, "err": true,
	"ctx": true, "c": true, "p": true, "catalog": true, "proxy": true,
}

// paramName returns a usable Go identifier for the i-th parameter.
func paramName(name string, i int) string {
	if name == "" || name == "_" {
		return "a" + strconv.Itoa(i)
	}
	if reserved[name] {
		return name + "_"
	}
	return name
}
