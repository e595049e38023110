package secretprovider

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvSource implements Source by reading every environment variable
// carrying prefix, stripping it, and lower-casing the remainder into the
// secret key. It stands in for the real external secret source, which is
// out of scope for this module; only the circuit-breaker façade in front
// of it is core.
type EnvSource struct {
	Prefix string
}

// Fetch implements Source.
func (s EnvSource) Fetch(_ context.Context) (map[string]string, error) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "ALEPHAUTO_SECRET_"
	}
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, prefix))
		if key == "" {
			return nil, fmt.Errorf("op=secretprovider.EnvSource.Fetch: empty key for env var %q", k)
		}
		out[key] = v
	}
	return out, nil
}
