package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Feature flag names. Each maps to FEATURE_<NAME> in the environment, with
// dots replaced by underscores.
const (
	FeaturePaywallHard              = "paywall.hard"
	FeatureAudioEnabled             = "audio.enabled"
	FeatureAudioRequireExplicitText = "audio.require_explicit_text"
	FeatureConversationOpenMode     = "conversation.open_mode"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle. A partial rollout reaches a stable subset of phones.
type Feature struct {
	Name           string
	Description    string
	Enabled        bool
	RolloutPercent int
}

func (f *Feature) setRollout(percent int) {
	f.RolloutPercent = percent
	f.Enabled = percent > 0
}

var defaultFeatures = []Feature{
	{FeaturePaywallHard, "Require premium before lessons", true, 100},
	{FeatureAudioEnabled, "Synthesize pronunciation audio", true, 100},
	{FeatureAudioRequireExplicitText, "Audio requests must name the phrase", false, 0},
	{FeatureConversationOpenMode, "Allow switching to free conversation", true, 100},
}

// FeatureFlags holds per-phone toggles and implements session.Flags. Rollouts
// and overrides may be changed while the bot is serving.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]*Feature
	overrides map[string]map[string]bool // phone -> feature -> enabled
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]*Feature, len(defaultFeatures)),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFeatures {
		f := f
		ff.features[f.Name] = &f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_* variables over the defaults. A value is
// a bool (all or nothing) or a percentage such as "25" or "25%". Anything
// else is ignored.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.features {
		if percent, ok := parseRollout(os.Getenv(featureNameToEnvKey(name))); ok {
			f.setRollout(percent)
		}
	}
	return ff
}

func parseRollout(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if on, err := strconv.ParseBool(raw); err == nil {
		if on {
			return 100, true
		}
		return 0, true
	}
	p, err := strconv.Atoi(strings.TrimSuffix(raw, "%"))
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// "audio.require_explicit_text" -> "FEATURE_AUDIO_REQUIRE_EXPLICIT_TEXT"
func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled resolves a feature for phone: override first, then rollout.
// An empty phone only sees fully rolled out features.
func (ff *FeatureFlags) IsEnabled(name, phone string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[phone][name]; ok {
		return on
	}
	f, ok := ff.features[name]
	switch {
	case !ok || !f.Enabled:
		return false
	case f.RolloutPercent >= 100:
		return true
	case phone == "":
		return false
	}
	return rolloutBucket(name, phone) < f.RolloutPercent
}

// rolloutBucket is stable per (feature, phone) and differs across features.
func rolloutBucket(name, phone string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(phone))
	return int(h.Sum32() % 100)
}

func (ff *FeatureFlags) HardPaywall(phone string) bool {
	return ff.IsEnabled(FeaturePaywallHard, phone)
}

func (ff *FeatureFlags) AudioEnabled(phone string) bool {
	return ff.IsEnabled(FeatureAudioEnabled, phone)
}

func (ff *FeatureFlags) RequireExplicitAudioText(phone string) bool {
	return ff.IsEnabled(FeatureAudioRequireExplicitText, phone)
}

func (ff *FeatureFlags) OpenConversation(phone string) bool {
	return ff.IsEnabled(FeatureConversationOpenMode, phone)
}

// SetPhoneOverride pins a feature for one phone, e.g. to unblock a student
// during support.
func (ff *FeatureFlags) SetPhoneOverride(phone, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.overrides[phone] == nil {
		ff.overrides[phone] = make(map[string]bool)
	}
	ff.overrides[phone][name] = enabled
}

func (ff *FeatureFlags) ClearPhoneOverrides(phone string) {
	ff.mu.Lock()
	delete(ff.overrides, phone)
	ff.mu.Unlock()
}

func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.setRollout(percent)
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// GetAllFeatures returns a snapshot.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make(map[string]Feature, len(ff.features))
	for name, f := range ff.features {
		out[name] = *f
	}
	return out
}
