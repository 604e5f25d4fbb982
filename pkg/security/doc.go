/*
Package security groups the packages that protect throttleguard itself.

# Authentication

auth resolves the acting subject of a request from an API key. The guard
calls the authenticator before the limiter so that a subject is limited by
identity rather than by address:

	validator := auth.NewAPIKeyValidator(keys)
	authn := auth.NewAPIKeyAuthenticator(validator, auth.DefaultSources(), true)

# Secrets

secrets resolves ${secret:name} references in the configuration, such as the
Redis password or API keys kept out of the config file:

	r := secrets.NewResolver([]secrets.Provider{
		secrets.NewEnvProvider("THROTTLEGUARD_SECRET_"),
	}, secrets.CacheConfig{TTL: 5 * time.Minute})

	password, err := r.ResolveReferences(ctx, "${secret:redis-password}")

# TLS

tls builds the server tls.Config and reloads renewed certificates without a
restart:

	tc, reloader, err := tls.ServerConfig(tls.Config{
		CertFile: "/etc/throttleguard/server.crt",
		KeyFile:  "/etc/throttleguard/server.key",
	})
	go reloader.Run(ctx)
*/
package security
