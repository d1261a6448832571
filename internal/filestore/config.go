package filestore

// Provider identifies the object storage backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
)

// Config holds the settings needed to reach an export bucket.
type Config struct {
	Provider Provider

	// Endpoint is the host:port of the storage server, e.g. "localhost:9000".
	Endpoint string

	AccessKey string
	SecretKey string
	UseSSL    bool

	// Region is used by region-aware backends. Leave empty for MinIO.
	Region string

	// Bucket receives exported result sets.
	Bucket string
}

// DefaultConfig returns a local-dev MinIO config.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    "sqlexplorer",
	}
}

// Enabled reports whether an endpoint has been configured.
func (c *Config) Enabled() bool {
	return c != nil && c.Endpoint != ""
}
