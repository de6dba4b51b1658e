package storage

import (
	"fmt"
	"regexp"

	"github.com/bitrise-io/s3dokan/errkind"
)

var urlPattern = regexp.MustCompile(`^(s3)://([^/]+?)/(.*?)/?$`)

// URL points at a key, or a key prefix, in a bucket.
type URL struct {
	Bucket string
	Key    string
}

// ParseURL parses an s3://bucket/key URL. The key may be empty and a trailing slash is dropped.
func ParseURL(raw string) (URL, error) {
	m := urlPattern.FindStringSubmatch(raw)
	if m == nil {
		return URL{}, errkind.InvalidArgument("invalid url %q: expected s3://bucket/key", raw)
	}

	return URL{Bucket: m[2], Key: m[3]}, nil
}

func (u URL) String() string {
	return fmt.Sprintf("s3://%s/%s", u.Bucket, u.Key)
}
