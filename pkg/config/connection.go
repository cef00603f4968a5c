package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

// Environment keys read by Resolve.
const (
	EnvAllowHTTP       = "ALLOW_HTTP"
	EnvEndpointURL     = "MINIO_URL"
	EnvRegion          = "MINIO_STORAGE_REGION"
	EnvAccessKeyID     = "MINIO_LOGIN"
	EnvSecretAccessKey = "MINIO_PASSWORD"
	EnvBucketName      = "MINIO_SOURCE_BUCKET"
)

// RequiredEnv lists the environment keys in the order they are validated.
var RequiredEnv = []string{
	EnvAllowHTTP,
	EnvEndpointURL,
	EnvRegion,
	EnvAccessKeyID,
	EnvSecretAccessKey,
	EnvBucketName,
}

// Storage parameter names produced by ToParameterMap. The region appears
// twice: table provisioning reads "region", the S3 client layer reads
// "AWS_REGION".
const (
	ParamAllowHTTP       = "allow_http"
	ParamEndpointURL     = "endpoint_url"
	ParamRegion          = "region"
	ParamAWSRegion       = "AWS_REGION"
	ParamAccessKeyID     = "access_key_id"
	ParamSecretAccessKey = "secret_access_key"
	ParamBucketName      = "bucket_name"
)

// ConnectionConfig holds the parameters required to reach an
// object-storage-backed table location. It is immutable once resolved.
type ConnectionConfig struct {
	AllowInsecureHTTP bool
	Endpoint          *url.URL
	Region            string
	AccessKeyID       string
	SecretAccessKey   string
	BucketName        string
}

// Resolve reads the connection configuration from the current process
// environment. Each call re-reads the environment.
func Resolve() (*ConnectionConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	return ResolveFrom(v)
}

// ResolveFrom resolves the connection configuration from v. Every required
// key that is unset or blank is collected and reported in one ConfigMissing
// error.
func ResolveFrom(v *viper.Viper) (*ConnectionConfig, error) {
	values := make(map[string]string, len(RequiredEnv))
	var missing []string
	for _, key := range RequiredEnv {
		value := strings.TrimSpace(v.GetString(key))
		if value == "" {
			missing = append(missing, key)
			continue
		}
		values[key] = value
	}
	if len(missing) > 0 {
		return nil, errors.ConfigMissing(missing...)
	}

	allowHTTP, err := strconv.ParseBool(values[EnvAllowHTTP])
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s must be a boolean, got %q", EnvAllowHTTP, values[EnvAllowHTTP]).
			WithDetail("key", EnvAllowHTTP)
	}

	endpoint, err := url.Parse(values[EnvEndpointURL])
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s must be an absolute URL, got %q", EnvEndpointURL, values[EnvEndpointURL]).
			WithDetail("key", EnvEndpointURL)
	}

	return &ConnectionConfig{
		AllowInsecureHTTP: allowHTTP,
		Endpoint:          endpoint,
		Region:            values[EnvRegion],
		AccessKeyID:       values[EnvAccessKeyID],
		SecretAccessKey:   values[EnvSecretAccessKey],
		BucketName:        values[EnvBucketName],
	}, nil
}

// ToParameterMap projects the configuration onto the parameter names the
// storage backend expects.
func (c *ConnectionConfig) ToParameterMap() map[string]string {
	return map[string]string{
		ParamAllowHTTP:       strconv.FormatBool(c.AllowInsecureHTTP),
		ParamEndpointURL:     c.Endpoint.String(),
		ParamRegion:          c.Region,
		ParamAWSRegion:       c.Region,
		ParamAccessKeyID:     c.AccessKeyID,
		ParamSecretAccessKey: c.SecretAccessKey,
		ParamBucketName:      c.BucketName,
	}
}

// String redacts the secret so the config can be logged.
func (c *ConnectionConfig) String() string {
	return fmt.Sprintf("endpoint=%s region=%s bucket=%s access_key_id=%s allow_http=%t",
		c.Endpoint, c.Region, c.BucketName, c.AccessKeyID, c.AllowInsecureHTTP)
}
