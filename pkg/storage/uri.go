package storage

import (
	"net/url"
	"strings"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

// URI is a parsed s3://bucket/path address.
type URI struct {
	Bucket string
	Path   string
}

// ParseURI parses an s3:// or s3a:// URI. The path is returned without
// leading or trailing slashes.
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid storage uri "+raw)
	}
	if u.Scheme != "s3" && u.Scheme != "s3a" {
		return URI{}, errors.Newf(errors.ErrorTypeValidation, "storage uri %s must use the s3 scheme", raw)
	}
	if u.Host == "" {
		return URI{}, errors.Newf(errors.ErrorTypeValidation, "storage uri %s has no bucket", raw)
	}
	return URI{Bucket: u.Host, Path: strings.Trim(u.Path, "/")}, nil
}

// String renders the URI as s3://bucket/path.
func (u URI) String() string {
	if u.Path == "" {
		return "s3://" + u.Bucket
	}
	return "s3://" + u.Bucket + "/" + u.Path
}

// Join appends elements to the URI path.
func (u URI) Join(elem ...string) URI {
	parts := make([]string, 0, len(elem)+1)
	if u.Path != "" {
		parts = append(parts, u.Path)
	}
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return URI{Bucket: u.Bucket, Path: strings.Join(parts, "/")}
}
