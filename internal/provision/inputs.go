package provision

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sentinelops/onboard-wizard/internal/azure"
)

var prefixRegex = regexp.MustCompile(`^[a-z0-9](?:-?[a-z0-9]+)*$`)

// Inputs are the operator-provided values driving one onboarding run.
type Inputs struct {
	CustomerPrefix    string
	SubscriptionID    string
	Region            string
	SkipModuleInstall bool
}

// Validate rejects bad input before any Azure call is made.
func (in Inputs) Validate() error {
	prefix := in.prefix()
	if len(prefix) < 3 {
		return newConfigurationError("customer prefix", "must be at least 3 characters, got %q", in.CustomerPrefix)
	}
	if !prefixRegex.MatchString(prefix) {
		return newConfigurationError("customer prefix", "may only contain letters, digits and single hyphens, got %q", in.CustomerPrefix)
	}
	if len(in.SubscriptionID) < 36 {
		return newConfigurationError("subscription id", "must be a 36 character guid, got %q", in.SubscriptionID)
	}
	if _, err := uuid.Parse(in.SubscriptionID); err != nil {
		return newConfigurationError("subscription id", "must be a guid, got %q", in.SubscriptionID)
	}
	if !azure.IsSupportedRegion(in.Region) {
		return newConfigurationError("region", "%q is not a supported Azure region", in.Region)
	}
	return nil
}

func (in Inputs) prefix() string {
	return strings.ToLower(strings.TrimSpace(in.CustomerPrefix))
}

func (in Inputs) ResourceGroupName() string {
	return in.prefix() + "-sentinel-rg"
}

func (in Inputs) IdentityName() string {
	return in.prefix() + "-sentinel-umi"
}

func (in Inputs) ApplicationName() string {
	return in.prefix() + "-sentinel-ingest"
}

// Scope is the subscription scope role assignments are created at.
func (in Inputs) Scope() string {
	return "/subscriptions/" + in.SubscriptionID
}
