package audit

import (
	"context"

	"github.com/randalmurphal/orchestra/pkg/orchestra/config"
)

// Profile is the deployment profile of a tenant as shown in exports.
type Profile struct {
	Market string `json:"market"`
	Mode   string `json:"mode"`
}

// DefaultProfile is used for tenants without a configured profile.
var DefaultProfile = Profile{Market: "enterprise", Mode: "standard"}

// ProfileProvider resolves tenant profiles. Tenant persistence lives
// outside this module; StaticProfiles covers configuration-driven setups.
type ProfileProvider interface {
	Profile(ctx context.Context, tenantID string) (Profile, error)
}

// StaticProfiles is a fixed tenant to profile table.
type StaticProfiles map[string]Profile

// ProfilesFromSettings builds a table from configuration.
func ProfilesFromSettings(settings []config.ProfileSettings) StaticProfiles {
	out := make(StaticProfiles, len(settings))
	for _, s := range settings {
		out[s.TenantID] = Profile{Market: s.Market, Mode: s.Mode}
	}
	return out
}

// Profile implements ProfileProvider. Unknown tenants get DefaultProfile.
func (p StaticProfiles) Profile(_ context.Context, tenantID string) (Profile, error) {
	if prof, ok := p[tenantID]; ok {
		return prof, nil
	}
	return DefaultProfile, nil
}
