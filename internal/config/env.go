package config

import (
	pkgConfig "github.com/wekeepgrowing/appstore-reconciler/pkg/config"
)

// applyEnv overrides secrets and endpoints from RECONCILER_* variables.
func (c *Config) applyEnv() {
	pkgConfig.Overlay(pkgConfig.NewEnvSource(EnvPrefix),
		pkgConfig.Binding{Key: "service.environment", String: &c.Service.Environment},
		pkgConfig.Binding{Key: "database.host", String: &c.Database.Host},
		pkgConfig.Binding{Key: "database.port", Int: &c.Database.Port},
		pkgConfig.Binding{Key: "database.name", String: &c.Database.Name},
		pkgConfig.Binding{Key: "database.user", String: &c.Database.User},
		pkgConfig.Binding{Key: "database.password", String: &c.Database.Password},
		pkgConfig.Binding{Key: "log.level", String: &c.Log.Level},
		pkgConfig.Binding{Key: "log.development", Bool: &c.Log.Development},
		pkgConfig.Binding{Key: "jwt.secret", String: &c.JWT.Secret},
		pkgConfig.Binding{Key: "redis.addr", String: &c.Redis.Addr},
		pkgConfig.Binding{Key: "redis.password", String: &c.Redis.Password},
		pkgConfig.Binding{Key: "redis.db", Int: &c.Redis.DB},
		pkgConfig.Binding{Key: "appstore.shared_secret", String: &c.AppStore.SharedSecret},
		pkgConfig.Binding{Key: "appstore.bundle_id", String: &c.AppStore.BundleID},
		pkgConfig.Binding{Key: "appstore.issuer_id", String: &c.AppStore.IssuerID},
		pkgConfig.Binding{Key: "appstore.key_id", String: &c.AppStore.KeyID},
		pkgConfig.Binding{Key: "appstore.private_key_path", String: &c.AppStore.PrivateKeyPath},
		pkgConfig.Binding{Key: "appstore.root_certificate_path", String: &c.AppStore.RootCertificatePath},
		pkgConfig.Binding{Key: "appstore.use_sandbox", Bool: &c.AppStore.UseSandbox},
	)
}
