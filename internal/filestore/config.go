package filestore

import "time"

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderB2 Provider = "b2"
	ProviderS3 Provider = "s3"
)

const (
	// DefaultPageSize is the page size used when ListOptions.PageSize is 0.
	DefaultPageSize = 1000

	// DefaultRequestTimeout bounds every single remote call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultSessionTTL stays under the provider's 24 hour token lifetime.
	DefaultSessionTTL = 23 * time.Hour

	// DefaultAuthURL is the B2 account-authorization host.
	DefaultAuthURL = "https://api.backblazeb2.com"
)

// Config holds all settings needed to reach the remote bucket.
type Config struct {
	// Provider is the storage backend (ProviderB2 or ProviderS3).
	Provider Provider

	// Credential is the combined application key, "<keyID>_<secret>".
	Credential string

	// BucketID identifies the bucket for the native B2 API.
	BucketID string

	// BucketName is the display name, and the bucket addressed over S3.
	BucketName string

	// AuthURL overrides DefaultAuthURL (B2 only).
	AuthURL string

	// Endpoint is the host:port of an S3-compatible endpoint
	// (e.g. "s3.us-west-004.backblazeb2.com").
	Endpoint string

	// Region is used by region-aware S3 endpoints.
	Region string

	// UseSSL controls whether TLS is used for S3 connections.
	UseSSL bool

	// PageSize is the default listing page size.
	PageSize int

	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration

	// SessionTTL is the freshness window of an authorized session (B2 only).
	SessionTTL time.Duration
}

// DefaultConfig returns a B2 config for the given credential and bucket.
func DefaultConfig(credential, bucketID, bucketName string) *Config {
	return &Config{
		Provider:       ProviderB2,
		Credential:     credential,
		BucketID:       bucketID,
		BucketName:     bucketName,
		AuthURL:        DefaultAuthURL,
		UseSSL:         true,
		PageSize:       DefaultPageSize,
		RequestTimeout: DefaultRequestTimeout,
		SessionTTL:     DefaultSessionTTL,
	}
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderB2
	}
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	return c
}
