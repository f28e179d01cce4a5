package config

import "time"

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// AppStoreConfig holds App Store credentials and endpoints
type AppStoreConfig struct {
	// SharedSecret is the app specific shared secret, checked against V1 notification passwords
	// and sent with verifyReceipt calls.
	SharedSecret string `yaml:"shared_secret"`
	BundleID     string `yaml:"bundle_id"`

	// App Store Server API key
	IssuerID       string `yaml:"issuer_id"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`

	// RootCertificatePath points to Apple Root CA G3 in PEM or DER form
	RootCertificatePath string `yaml:"root_certificate_path"`

	ProductionURL       string        `yaml:"production_url"`
	SandboxURL          string        `yaml:"sandbox_url"`
	ServerAPIURL        string        `yaml:"server_api_url"`
	SandboxServerAPIURL string        `yaml:"sandbox_server_api_url"`
	UseSandbox          bool          `yaml:"use_sandbox"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	RateLimitPerSecond  float64       `yaml:"rate_limit_per_second"`
}
