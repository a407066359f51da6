package firmware

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoFirmwareURL is returned when a link carries no firmware parameter.
var ErrNoFirmwareURL = errors.New("no firmware url in link")

// FirmwareURLFromLink reads the firmware URL out of a shared page link.
func FirmwareURLFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("failed to parse link: %w", err)
	}
	return FirmwareURLFromQuery(u.RawQuery)
}

// FirmwareURLFromQuery reads the firmwareUrl (or firmware) parameter of a
// query string. Values that were encoded twice get a second decode pass
// when the first pass does not produce an https URL.
func FirmwareURLFromQuery(rawQuery string) (string, error) {
	// ParseQuery keeps the parameters it could decode even on error.
	values, _ := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))

	v := strings.TrimSpace(values.Get("firmwareUrl"))
	if v == "" {
		v = strings.TrimSpace(values.Get("firmware"))
	}
	if v == "" {
		return "", ErrNoFirmwareURL
	}

	if !hasHTTPSPrefix(v) {
		if decoded, err := url.PathUnescape(v); err == nil && hasHTTPSPrefix(decoded) {
			v = decoded
		}
	}
	if !hasHTTPSPrefix(v) {
		return "", fmt.Errorf("%w: %s", ErrInsecureSource, v)
	}
	return v, nil
}

func hasHTTPSPrefix(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), "https://")
}
