// Package catalog lists the identity providers users can sign in with. The list
// comes from a YAML file with per-provider environment overrides, and falls
// back to built-in google and github entries.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Which provider credential is handed to the backend for exchange.
const (
	CredentialIDToken     = "id_token"
	CredentialAccessToken = "access_token"
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type fileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig is one entry of the providers file.
type ProviderConfig struct {
	ID           string   `yaml:"id"`
	Enabled      *bool    `yaml:"enabled"`
	AuthProvider string   `yaml:"auth_provider"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	Credential   string   `yaml:"credential"`
	RedirectURL  string   `yaml:"redirect_url"`
}

// ProviderInfo is the resolved, secret-free view of a provider.
type ProviderInfo struct {
	ID              string   `json:"id"`
	Enabled         bool     `json:"enabled"`
	RuntimeEnabled  bool     `json:"runtime_enabled"`
	AuthProvider    string   `json:"auth_provider"`
	AuthURL         string   `json:"auth_url,omitempty"`
	TokenURL        string   `json:"token_url,omitempty"`
	Scopes          []string `json:"scopes"`
	Credential      string   `json:"credential"`
	RedirectURL     string   `json:"redirect_url,omitempty"`
	ClientIDEnv     string   `json:"client_id_env"`
	ClientSecretEnv string   `json:"client_secret_env"`
}

type runtimeProvider struct {
	info         ProviderInfo
	clientID     string
	clientSecret string
}

var (
	stateMu      sync.RWMutex
	initialized  bool
	providerByID map[string]runtimeProvider
	providerList []string
)

// InitFromEnvAndConfig initializes catalog by loading file and applying env overrides.
func InitFromEnvAndConfig() error {
	providers, err := loadProviders()

	stateMu.Lock()
	defer stateMu.Unlock()

	providerByID = make(map[string]runtimeProvider)
	providerList = providerList[:0]
	for _, p := range providers {
		providerByID[p.info.ID] = p
		providerList = append(providerList, p.info.ID)
	}
	initialized = true
	return err
}

func ensureInitialized() {
	stateMu.RLock()
	ok := initialized
	stateMu.RUnlock()
	if ok {
		return
	}
	_ = InitFromEnvAndConfig()
}

// ResetForTest resets in-memory state so tests can force reload.
func ResetForTest() {
	stateMu.Lock()
	defer stateMu.Unlock()
	initialized = false
	providerByID = nil
	providerList = nil
}

// GetProviders returns every configured provider, sorted by ID.
func GetProviders() []ProviderInfo {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	result := make([]ProviderInfo, 0, len(providerList))
	for _, id := range providerList {
		if entry, ok := providerByID[id]; ok {
			result = append(result, entry.info.clone())
		}
	}
	return result
}

// GetProvider returns provider metadata by ID.
func GetProvider(id string) (ProviderInfo, bool) {
	info, _, _, ok := GetRuntimeProvider(id)
	return info, ok
}

// GetRuntimeProvider returns a provider with its OAuth client credentials.
func GetRuntimeProvider(id string) (info ProviderInfo, clientID, clientSecret string, ok bool) {
	ensureInitialized()

	stateMu.RLock()
	defer stateMu.RUnlock()

	entry, ok := providerByID[normalizeProviderID(id)]
	if !ok {
		return ProviderInfo{}, "", "", false
	}
	return entry.info.clone(), entry.clientID, entry.clientSecret, true
}

// EnabledProviderIDs returns providers that are enabled and have client credentials.
func EnabledProviderIDs() []string {
	providers := GetProviders()
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		if p.RuntimeEnabled {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (p ProviderInfo) clone() ProviderInfo {
	p.Scopes = append([]string(nil), p.Scopes...)
	return p
}

func loadProviders() ([]runtimeProvider, error) {
	cfgProviders, loadErr := loadConfigProviders()
	if len(cfgProviders) == 0 {
		cfgProviders = defaultProviders()
	}

	providers := make([]runtimeProvider, 0, len(cfgProviders))
	for _, cfg := range cfgProviders {
		runtimeEntry, ok := normalizeConfig(cfg)
		if !ok {
			continue
		}
		providers = append(providers, runtimeEntry)
	}

	sort.SliceStable(providers, func(i, j int) bool {
		return providers[i].info.ID < providers[j].info.ID
	})

	return providers, loadErr
}

func loadConfigProviders() ([]ProviderConfig, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity providers file %q: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse identity providers file %q: %w", path, err)
	}

	return cfg.Providers, nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("NEXUS_IDENTITY_PROVIDERS_FILE")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/identity_providers.yaml",
		"/etc/nexus/identity_providers.yaml",
		"/usr/local/etc/nexus/identity_providers.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, ".config", "nexus", "identity_providers.yaml"),
			filepath.Join(homeDir, ".nexus", "identity_providers.yaml"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func normalizeConfig(cfg ProviderConfig) (runtimeProvider, bool) {
	id := normalizeProviderID(cfg.ID)
	if !providerIDRegexp.MatchString(id) {
		return runtimeProvider{}, false
	}

	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	credential := strings.TrimSpace(strings.ToLower(cfg.Credential))
	switch credential {
	case "":
		credential = CredentialIDToken
	case CredentialIDToken, CredentialAccessToken:
	default:
		return runtimeProvider{}, false
	}

	authProvider := strings.ToUpper(strings.TrimSpace(cfg.AuthProvider))
	if authProvider == "" {
		authProvider = strings.ToUpper(id)
	}

	redirectURL := strings.TrimSpace(cfg.RedirectURL)
	if v := strings.TrimSpace(os.Getenv(providerEnvName(id, "REDIRECT_URL"))); v != "" {
		redirectURL = v
	}

	scopes := normalizeScopes(cfg.Scopes)
	if v := strings.TrimSpace(os.Getenv(providerEnvName(id, "SCOPES"))); v != "" {
		scopes = normalizeScopes(strings.Split(v, ","))
	}

	clientIDEnv := providerEnvName(id, "CLIENT_ID")
	clientSecretEnv := providerEnvName(id, "CLIENT_SECRET")
	clientID := strings.TrimSpace(os.Getenv(clientIDEnv))
	clientSecret := strings.TrimSpace(os.Getenv(clientSecretEnv))

	info := ProviderInfo{
		ID:              id,
		Enabled:         enabled,
		RuntimeEnabled:  enabled && clientID != "" && clientSecret != "",
		AuthProvider:    authProvider,
		AuthURL:         strings.TrimSpace(cfg.AuthURL),
		TokenURL:        strings.TrimSpace(cfg.TokenURL),
		Scopes:          scopes,
		Credential:      credential,
		RedirectURL:     redirectURL,
		ClientIDEnv:     clientIDEnv,
		ClientSecretEnv: clientSecretEnv,
	}

	return runtimeProvider{info: info, clientID: clientID, clientSecret: clientSecret}, true
}

func normalizeScopes(scopes []string) []string {
	set := make(map[string]struct{}, len(scopes))
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, exists := set[s]; exists {
			continue
		}
		set[s] = struct{}{}
		result = append(result, s)
	}
	return result
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func providerEnvName(id, suffix string) string {
	upper := strings.ToUpper(id)
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_")
	upper = replacer.Replace(upper)
	return fmt.Sprintf("NEXUS_%s_%s", upper, suffix)
}

func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:           "google",
			Enabled:      boolPtr(true),
			AuthProvider: "GOOGLE",
			Scopes:       []string{"openid", "email", "profile"},
			Credential:   CredentialIDToken,
		},
		{
			ID:           "github",
			Enabled:      boolPtr(true),
			AuthProvider: "GITHUB",
			Scopes:       []string{"read:user", "user:email"},
			Credential:   CredentialAccessToken,
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}
