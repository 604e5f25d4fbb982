/*
Package secrets resolves credentials referenced from configuration.

Configuration values may contain ${secret:name} references. A Resolver
replaces each reference with the value of the first provider that has the
named secret, caching results for a TTL.

# Providers

  - EnvProvider reads THROTTLEGUARD_SECRET_<NAME>, with hyphens in the name
    mapped to underscores.
  - FileProvider reads <dir>/<name>, the layout of mounted Kubernetes and
    Docker secrets. Files must be mode 0600 or 0400. With watching enabled,
    a changed file is dropped from the provider cache.

# Usage

	env := secrets.NewEnvProvider("")
	files, err := secrets.NewFileProvider("/run/secrets", true)
	if err != nil {
		return err
	}
	r := secrets.NewResolver([]secrets.Provider{files, env}, secrets.CacheConfig{TTL: 5 * time.Minute})
	defer r.Close()

	password, err := r.ResolveReferences(ctx, cfg.Limits.Redis.Password)

Secret values are never logged. Names are logged shortened.
*/
package secrets
