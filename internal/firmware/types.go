package firmware

import "time"

// Entry is a downloaded and parsed remote firmware image.
type Entry struct {
	SourceURL    string
	ResolvedName string
	ContentType  string
	Bytes        []byte
	Info         ImageInfo
	FetchedAt    time.Time
}

// Size returns the number of bytes downloaded.
func (e *Entry) Size() int {
	return len(e.Bytes)
}
