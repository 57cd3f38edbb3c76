package provision

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sentinelops/onboard-wizard/internal/message"
)

// Summary records what a run created versus what it found already in
// place. It is threaded through every step and returned to the caller.
type Summary struct {
	CustomerPrefix string    `json:"customerPrefix"`
	SubscriptionID string    `json:"subscriptionId"`
	Region         string    `json:"region"`
	FinishedAt     time.Time `json:"finishedAt"`

	ProvidersRegistered []string `json:"providersRegistered,omitempty"`

	ResourceGroupCreated bool `json:"resourceGroupCreated"`
	ResourceGroupFound   bool `json:"resourceGroupFound"`

	IdentityCreated bool `json:"identityCreated"`
	IdentityFound   bool `json:"identityFound"`

	RoleAssignments      []string `json:"roleAssignments"`
	RolesAlreadyAssigned []string `json:"rolesAlreadyAssigned"`

	ApplicationCreated bool `json:"applicationCreated"`
	ApplicationFound   bool `json:"applicationFound"`

	ServicePrincipalCreated bool `json:"servicePrincipalCreated"`
	ServicePrincipalFound   bool `json:"servicePrincipalFound"`

	// SecretCreated is true on every successful run, the bootstrap secret
	// is rotated unconditionally.
	SecretCreated   bool      `json:"secretCreated"`
	SecretExpiresAt time.Time `json:"secretExpiresAt"`

	GraphPermissions               []string `json:"graphPermissions"`
	GraphPermissionsAlreadyGranted []string `json:"graphPermissionsAlreadyGranted"`

	OwnershipAdded          bool `json:"ownershipAdded"`
	OwnershipAlreadyPresent bool `json:"ownershipAlreadyPresent"`

	Warnings []string `json:"warnings,omitempty"`
}

func newSummary(in Inputs) *Summary {
	return &Summary{
		CustomerPrefix:                 in.prefix(),
		SubscriptionID:                 in.SubscriptionID,
		Region:                         in.Region,
		RoleAssignments:                []string{},
		RolesAlreadyAssigned:           []string{},
		GraphPermissions:               []string{},
		GraphPermissionsAlreadyGranted: []string{},
	}
}

func (s *Summary) Print() {
	message.Success("Onboarding of customer %q finished", s.CustomerPrefix)
	message.Info("Resource group: created=%t found=%t", s.ResourceGroupCreated, s.ResourceGroupFound)
	message.Info("Managed identity: created=%t found=%t", s.IdentityCreated, s.IdentityFound)
	message.Info("Role assignments created: %s", joinOrNone(s.RoleAssignments))
	message.Info("Role assignments already in place: %s", joinOrNone(s.RolesAlreadyAssigned))
	message.Info("Application: created=%t found=%t", s.ApplicationCreated, s.ApplicationFound)
	message.Info("Service principal: created=%t found=%t", s.ServicePrincipalCreated, s.ServicePrincipalFound)
	message.Info("Bootstrap secret rotated, expires %s", s.SecretExpiresAt.Format(time.RFC3339))
	message.Info("Graph permissions granted: %s", joinOrNone(s.GraphPermissions))
	message.Info("Graph permissions already granted: %s", joinOrNone(s.GraphPermissionsAlreadyGranted))
	message.Info("Application ownership: added=%t present=%t", s.OwnershipAdded, s.OwnershipAlreadyPresent)
	for _, warning := range s.Warnings {
		message.Warning("%s", warning)
	}
}

// Save writes the summary as JSON. The bootstrap secret value is never
// part of it.
func (s *Summary) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
