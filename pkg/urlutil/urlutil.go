// Package urlutil holds small, stateless URL string helpers shared by
// higher-level packages. It has no opinion about crawl semantics.
package urlutil

// LowerASCII converts ASCII characters to lowercase without allocating when
// the string is already lowercase. Faster than strings.ToLower for the
// scheme/host strings that pass through here on every URL.
func LowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// StripTrailingSlash removes trailing slashes from a path, leaving a
// lone "/" untouched.
func StripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

// IsDefaultPort reports whether port is the default port for scheme,
// i.e. one that is safe to drop from a canonical URL.
func IsDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
