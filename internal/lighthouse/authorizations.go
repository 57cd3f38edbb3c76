package lighthouse

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/sentinelops/onboard-wizard/internal/azure"
)

// Authorization maps one managing-tenant principal to a built-in role in
// the customer subscription, mirroring the authorizations block of a
// Microsoft.ManagedServices registration definition.
type Authorization struct {
	PrincipalID                string   `yaml:"principalId" json:"principalId"`
	PrincipalDisplayName       string   `yaml:"principalIdDisplayName" json:"principalIdDisplayName"`
	RoleDefinitionID           string   `yaml:"roleDefinitionId" json:"roleDefinitionId"`
	DelegatedRoleDefinitionIDs []string `yaml:"delegatedRoleDefinitionIds,omitempty" json:"delegatedRoleDefinitionIds,omitempty"`
}

type AuthorizationList []Authorization

// Definition is the offer the customer accepts when deploying the
// rendered template, the managing tenant and who gets which role.
type Definition struct {
	MspOfferName        string            `yaml:"mspOfferName" json:"mspOfferName"`
	MspOfferDescription string            `yaml:"mspOfferDescription" json:"mspOfferDescription"`
	ManagedByTenantID   string            `yaml:"managedByTenantId" json:"managedByTenantId"`
	Authorizations      AuthorizationList `yaml:"authorizations" json:"authorizations"`
}

// DefaultDefinition is the standard SentinelOps offer. The group ids live
// in the managing tenant, operators override them per deployment through
// an authorizations file.
func DefaultDefinition() Definition {
	return Definition{
		MspOfferName:        "SentinelOps Managed Security Monitoring",
		MspOfferDescription: "Delegated access for SentinelOps to operate Microsoft Sentinel in the customer subscription",
		ManagedByTenantID:   "c7a9e2f4-5d13-4b6a-8e3f-2f1b9d60a84c",
		Authorizations: AuthorizationList{
			{
				PrincipalID:          "4f0bd3f1-bf0f-4bbf-8d61-26b04d48d3b8",
				PrincipalDisplayName: "SentinelOps SOC Responders",
				RoleDefinitionID:     azure.RoleSentinelResponder,
			},
			{
				PrincipalID:          "9c2e1a75-2b8e-4a5f-9d3c-b9f1e7a64c02",
				PrincipalDisplayName: "SentinelOps SOC Readers",
				RoleDefinitionID:     azure.RoleReader,
			},
			{
				PrincipalID:          "2a6d44d7-4f0e-43e1-a2a9-7d34cf9e15b3",
				PrincipalDisplayName: "SentinelOps Platform Engineers",
				RoleDefinitionID:     azure.RoleSentinelContributor,
			},
			{
				PrincipalID:          "2a6d44d7-4f0e-43e1-a2a9-7d34cf9e15b3",
				PrincipalDisplayName: "SentinelOps Platform Engineers",
				RoleDefinitionID:     azure.RoleLogAnalyticsContributor,
			},
			{
				PrincipalID:          "d5b0f8c3-9e27-4d06-bd4b-63f2a07c41d9",
				PrincipalDisplayName: "SentinelOps Onboarding Automation",
				RoleDefinitionID:     azure.RoleUserAccessAdministrator,
				DelegatedRoleDefinitionIDs: []string{
					azure.RoleMonitoringContributor,
					azure.RoleLogAnalyticsContributor,
				},
			},
			{
				PrincipalID:          "7f1d8a25-891c-4a0e-9d96-4f2e8a31b571",
				PrincipalDisplayName: "SentinelOps Offboarding",
				RoleDefinitionID:     azure.RoleManagedServicesRegistrationRm,
			},
		},
	}
}

// Load reads an authorizations file and fills missing fields from the
// default definition. An empty path returns the defaults.
func Load(path string) (Definition, error) {
	definition := DefaultDefinition()
	if path == "" {
		return definition, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read authorizations file: %w", err)
	}
	var file Definition
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Definition{}, fmt.Errorf("failed to unmarshal authorizations file: %w", err)
	}
	if file.MspOfferName != "" {
		definition.MspOfferName = file.MspOfferName
	}
	if file.MspOfferDescription != "" {
		definition.MspOfferDescription = file.MspOfferDescription
	}
	if file.ManagedByTenantID != "" {
		definition.ManagedByTenantID = file.ManagedByTenantID
	}
	if len(file.Authorizations) > 0 {
		definition.Authorizations = file.Authorizations
	}
	return definition, nil
}

// Validate checks the definition against the role catalog before anything
// is rendered or provisioned.
func (d Definition) Validate() error {
	if d.MspOfferName == "" {
		return fmt.Errorf("mspOfferName must not be empty")
	}
	if _, err := uuid.Parse(d.ManagedByTenantID); err != nil {
		return fmt.Errorf("managedByTenantId %q is not a guid", d.ManagedByTenantID)
	}
	return d.Authorizations.Validate()
}

func (l AuthorizationList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("authorization list must not be empty")
	}
	seen := map[string]bool{}
	for i, auth := range l {
		who := auth.PrincipalDisplayName
		if who == "" {
			return fmt.Errorf("authorization %d: principalIdDisplayName must not be empty", i)
		}
		if _, err := uuid.Parse(auth.PrincipalID); err != nil {
			return fmt.Errorf("authorization %d (%s): principalId %q is not a guid", i, who, auth.PrincipalID)
		}
		if !azure.IsBuiltInRole(auth.RoleDefinitionID) {
			return fmt.Errorf("authorization %d (%s): roleDefinitionId %q is not a supported built-in role", i, who, auth.RoleDefinitionID)
		}
		key := strings.ToLower(auth.PrincipalID + "/" + auth.RoleDefinitionID)
		if seen[key] {
			return fmt.Errorf("authorization %d (%s): duplicate assignment of %s", i, who, azure.RoleName(auth.RoleDefinitionID))
		}
		seen[key] = true

		isUAA := strings.EqualFold(auth.RoleDefinitionID, azure.RoleUserAccessAdministrator)
		if isUAA && len(auth.DelegatedRoleDefinitionIDs) == 0 {
			return fmt.Errorf("authorization %d (%s): User Access Administrator requires delegatedRoleDefinitionIds", i, who)
		}
		if !isUAA && len(auth.DelegatedRoleDefinitionIDs) > 0 {
			return fmt.Errorf("authorization %d (%s): delegatedRoleDefinitionIds are only allowed with User Access Administrator", i, who)
		}
		for _, delegated := range auth.DelegatedRoleDefinitionIDs {
			if !azure.IsBuiltInRole(delegated) {
				return fmt.Errorf("authorization %d (%s): delegated role %q is not a supported built-in role", i, who, delegated)
			}
		}
	}
	return nil
}
