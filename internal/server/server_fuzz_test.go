package server

import (
	"strings"
	"testing"
)

func FuzzIsSafeName(f *testing.F) {
	f.Add("valid-name_123")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("name/with/slash")
	f.Add("name\\with\\backslash")
	f.Add("unicode한글name")
	f.Add("name\x00null")

	f.Fuzz(func(t *testing.T, name string) {
		result := isSafeName(name)
		if name == "" && result {
			t.Error("empty name should not be safe")
		}
		if strings.Contains(name, "..") && result {
			t.Errorf("name with .. should not be safe: %q", name)
		}
		if strings.ContainsAny(name, "/\\*?") && result {
			t.Errorf("name with separators or globs should not be safe: %q", name)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("/api")
	f.Add("/api/")
	f.Add("api")
	f.Add("  /api/v1/  ")
	f.Add("//multiple//slashes//")

	f.Fuzz(func(t *testing.T, basePath string) {
		result := sanitizeBase(basePath)
		if result != "" {
			if !strings.HasPrefix(result, "/") {
				t.Errorf("sanitized base should start with /: %q -> %q", basePath, result)
			}
			if strings.HasSuffix(result, "/") {
				t.Errorf("sanitized base should not end with /: %q -> %q", basePath, result)
			}
		}
		trimmed := strings.TrimSpace(basePath)
		if (trimmed == "" || trimmed == "/") && result != "" {
			t.Errorf("empty or root base should result in empty: %q -> %q", basePath, result)
		}
	})
}
