package admission

import (
	"fmt"
	"os"
	"strings"
	"time"

	"admission-gateway/internal/common/errors"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Policy is the quota for one endpoint category
type Policy struct {
	Name          string `yaml:"name" validate:"required"`
	Prefix        string `yaml:"prefix,omitempty" validate:"omitempty,startswith=/"`
	MaxRequests   int    `yaml:"max_requests" validate:"min=1"`
	WindowSeconds int    `yaml:"window_seconds" validate:"min=1"`
	Message       string `yaml:"message" validate:"required"`
}

// Window returns the policy window as a duration
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// PolicyFile is the on-disk policy table. Policies are matched by longest
// prefix; Default applies when none matches and APIKey replaces Default for
// requests that present an API key.
type PolicyFile struct {
	Default  Policy   `yaml:"default"`
	APIKey   *Policy  `yaml:"api_key,omitempty"`
	Policies []Policy `yaml:"policies" validate:"dive"`
}

// Built-in policies
var (
	DefaultPolicy = Policy{
		Name:          "default",
		MaxRequests:   100,
		WindowSeconds: 60,
		Message:       "Too many requests. Please try again later.",
	}

	APIKeyPolicy = Policy{
		Name:          "api_key",
		MaxRequests:   1000,
		WindowSeconds: 60,
		Message:       "API rate limit exceeded.",
	}

	PasswordResetPolicy = Policy{
		Name:          "password_reset",
		MaxRequests:   3,
		WindowSeconds: 3600,
		Message:       "Too many password reset requests. Please wait before trying again.",
	}
)

// AuthPolicy returns the login/registration quota, relaxed in development
func AuthPolicy(development bool) Policy {
	p := Policy{
		Name:          "auth",
		MaxRequests:   5,
		WindowSeconds: 300,
		Message:       "Too many authentication attempts. Please wait before trying again.",
	}
	if development {
		p.MaxRequests = 20
		p.WindowSeconds = 60
	}
	return p
}

// DefaultPolicyFile returns the built-in table rooted at apiPrefix
func DefaultPolicyFile(apiPrefix string, development bool) PolicyFile {
	apiPrefix = strings.TrimSuffix(apiPrefix, "/")

	withPrefix := func(p Policy, path string) Policy {
		p.Prefix = apiPrefix + path
		return p
	}
	auth := AuthPolicy(development)
	apiKey := APIKeyPolicy

	return PolicyFile{
		Default: DefaultPolicy,
		APIKey:  &apiKey,
		Policies: []Policy{
			withPrefix(auth, "/auth/login"),
			withPrefix(auth, "/auth/register"),
			withPrefix(PasswordResetPolicy, "/auth/forgot-password"),
			withPrefix(PasswordResetPolicy, "/auth/reset-password"),
		},
	}
}

// LoadPolicyFile reads a YAML policy table from path
func LoadPolicyFile(path string) (PolicyFile, error) {
	var file PolicyFile

	data, err := os.ReadFile(path)
	if err != nil {
		return file, errors.ConfigError(fmt.Sprintf("failed to read policy file: %v", err)).
			WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, errors.ConfigError(fmt.Sprintf("failed to parse policy file: %v", err)).
			WithContext("path", path)
	}
	return file, nil
}

// PolicyTable resolves request paths to policies
type PolicyTable struct {
	policies   []Policy
	fallback   Policy
	apiKey     *Policy
	multiplier float64
}

var validate = validator.New()

// NewPolicyTable validates file and builds a table whose limits are scaled by
// limitMultiplier.
func NewPolicyTable(file PolicyFile, limitMultiplier float64) (*PolicyTable, error) {
	if err := validate.Struct(file); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid policy table: %v", err))
	}
	for _, p := range file.Policies {
		if p.Prefix == "" {
			return nil, errors.ConfigError(fmt.Sprintf("policy %q has no prefix", p.Name))
		}
	}
	if limitMultiplier <= 0 {
		limitMultiplier = 1
	}

	return &PolicyTable{
		policies:   append([]Policy(nil), file.Policies...),
		fallback:   file.Default,
		apiKey:     file.APIKey,
		multiplier: limitMultiplier,
	}, nil
}

// Match returns the policy with the longest prefix of path; ties go to the
// one declared first. Without a match the API key policy applies when
// hasAPIKey is set, otherwise the default.
func (t *PolicyTable) Match(path string, hasAPIKey bool) Policy {
	best := -1
	for i, p := range t.policies {
		if !strings.HasPrefix(path, p.Prefix) {
			continue
		}
		if best < 0 || len(p.Prefix) > len(t.policies[best].Prefix) {
			best = i
		}
	}

	var p Policy
	switch {
	case best >= 0:
		p = t.policies[best]
	case hasAPIKey && t.apiKey != nil:
		p = *t.apiKey
	default:
		p = t.fallback
	}
	return t.scale(p)
}

func (t *PolicyTable) scale(p Policy) Policy {
	p.MaxRequests = int(float64(p.MaxRequests) * t.multiplier)
	if p.MaxRequests < 1 {
		p.MaxRequests = 1
	}
	return p
}

// Policies returns the prefixed entries in declaration order
func (t *PolicyTable) Policies() []Policy {
	return append([]Policy(nil), t.policies...)
}
