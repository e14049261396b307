// Package secretref resolves the opaque `{"secret": {"alias", "version"}}`
// variants an effect's params may carry into a content digest before the
// effect manager hashes the intent, enforcing each secret's
// allowed_caps/allowed_plans policy first. A scanner asserts that a
// resolved digest never leaks the plaintext value back into a hashed
// structure.
package secretref

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/manifest"
)

// ErrNotFound is returned when an alias has no resolvable value.
var ErrNotFound = fmt.Errorf("secretref: not found")

// ErrPolicyDenied is returned when the requesting cap or plan is not in
// the secret's allowlist.
type ErrPolicyDenied struct {
	Alias, Version, Reason string
}

func (e *ErrPolicyDenied) Error() string {
	return fmt.Sprintf("secretref: %s@%s denied: %s", e.Alias, e.Version, e.Reason)
}

// Source fetches the plaintext bytes for a secret alias/version. The
// concrete implementation (Vault, env, cloud secret manager) is supplied
// by the host; the kernel never embeds one directly.
type Source interface {
	Fetch(ctx context.Context, alias, version string) ([]byte, error)
}

// Resolver substitutes secret-reference variants with content digests.
type Resolver struct {
	source Source
}

// NewResolver builds a Resolver backed by source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// secretVariantKey is the reserved map key a params tree uses to mark a
// secret reference, as produced by json.Unmarshal into map[string]any.
const secretVariantKey = "secret"

// Resolve walks a normalized params tree (as produced by
// codec.NormalizeTree) and replaces every `{"secret": {"alias": ...,
// "version": ...}}` variant with `{"secret_digest": "sha256:..."}`,
// checking each alias against the manifest's SecretDef allowlist for
// capName (if non-empty) and planName (if non-empty) first.
func (r *Resolver) Resolve(ctx context.Context, lm *manifest.LoadedManifest, params any, capName, planName string) (any, error) {
	switch v := params.(type) {
	case map[string]any:
		if ref, ok := v[secretVariantKey]; ok && len(v) == 1 {
			return r.resolveVariant(ctx, lm, ref, capName, planName)
		}
		out := make(map[string]any, len(v))
		for k, sub := range v {
			resolved, err := r.Resolve(ctx, lm, sub, capName, planName)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, sub := range v {
			resolved, err := r.Resolve(ctx, lm, sub, capName, planName)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveVariant(ctx context.Context, lm *manifest.LoadedManifest, ref any, capName, planName string) (any, error) {
	m, ok := ref.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secretref: malformed secret variant")
	}
	alias, _ := m["alias"].(string)
	version, _ := m["version"].(string)
	if alias == "" {
		return nil, fmt.Errorf("secretref: secret variant missing alias")
	}

	def, ok := lm.Secrets[alias]
	if !ok {
		return nil, fmt.Errorf("%w: alias %q", ErrNotFound, alias)
	}
	if err := checkAllowed(def, capName, planName); err != nil {
		return nil, err
	}

	plaintext, err := r.source.Fetch(ctx, alias, version)
	if err != nil {
		return nil, fmt.Errorf("secretref: fetch %s@%s: %w", alias, version, err)
	}
	digest := codec.Sum(plaintext)

	if looksLikeSecret(digest.String()) {
		return nil, fmt.Errorf("secretref: digest for %s unexpectedly resembles plaintext", alias)
	}

	return map[string]any{"secret_digest": digest.String()}, nil
}

func checkAllowed(def manifest.SecretDef, capName, planName string) error {
	if capName != "" && len(def.AllowedCaps) > 0 && !contains(def.AllowedCaps, capName) {
		return &ErrPolicyDenied{Alias: def.Alias, Reason: fmt.Sprintf("cap %q not in allowed_caps", capName)}
	}
	if planName != "" && len(def.AllowedPlans) > 0 && !contains(def.AllowedPlans, planName) {
		return &ErrPolicyDenied{Alias: def.Alias, Reason: fmt.Sprintf("plan %q not in allowed_plans", planName)}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

var plaintextLookingPattern = regexp.MustCompile(`(?i)-----BEGIN.*PRIVATE KEY-----|^sk_live_|^AKIA[0-9A-Z]{16}$`)

func looksLikeSecret(s string) bool {
	return plaintextLookingPattern.MatchString(s)
}
