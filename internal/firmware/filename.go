package firmware

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultFilename is used when neither the response nor the URL names the file.
const DefaultFilename = "firmware.bin"

var (
	utf8FilenameRe  = regexp.MustCompile(`(?i)filename\*=UTF-8''([^;]+)`)
	asciiFilenameRe = regexp.MustCompile(`(?i)filename="?([^";]+)"?`)
)

// ResolveFilename picks a display name for a downloaded image: the
// Content-Disposition filename, then the last URL path segment, then
// DefaultFilename. Path components are always stripped.
func ResolveFilename(contentDisposition, rawURL string) string {
	if name := FilenameFromContentDisposition(contentDisposition); name != "" {
		return name
	}
	if name := filenameFromURL(rawURL); name != "" {
		return name
	}
	return DefaultFilename
}

// FilenameFromContentDisposition extracts the filename parameter of a
// Content-Disposition header, preferring the RFC 5987 UTF-8 form.
func FilenameFromContentDisposition(header string) string {
	if header == "" {
		return ""
	}

	if m := utf8FilenameRe.FindStringSubmatch(header); m != nil {
		if decoded, err := url.PathUnescape(m[1]); err == nil {
			if name := sanitizeFilename(decoded); name != "" {
				return name
			}
		}
	}

	if m := asciiFilenameRe.FindStringSubmatch(header); m != nil {
		if name := sanitizeFilename(m[1]); name != "" {
			return name
		}
	}

	return ""
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return sanitizeFilename(u.Path)
}

// sanitizeFilename keeps only the last path segment.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
