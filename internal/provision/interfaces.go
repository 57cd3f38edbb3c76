package provision

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelops/onboard-wizard/internal/azure"
)

// Narrow capability interfaces over the Azure clients, one per resource
// kind, so the orchestration logic is testable against in-memory fakes.
// Get calls return nil without error when the resource does not exist,
// Create calls report false when creation lost against an already
// existing resource.

type Subscriptions interface {
	Get(ctx context.Context, subscriptionID string) (*azure.Subscription, error)
}

type ResourceGroups interface {
	Get(ctx context.Context, name string) (*azure.ResourceGroup, error)
	Create(ctx context.Context, name, region string) (*azure.ResourceGroup, error)
}

type Providers interface {
	RegistrationState(ctx context.Context, namespace string) (string, error)
	Register(ctx context.Context, namespace string) error
}

type Identities interface {
	Get(ctx context.Context, resourceGroup, name string) (*azure.ManagedIdentity, error)
	Create(ctx context.Context, resourceGroup, name, region string) (*azure.ManagedIdentity, error)
}

type RoleAssignments interface {
	ListForPrincipal(ctx context.Context, scope, principalID string) ([]azure.RoleAssignment, error)
	Create(ctx context.Context, scope, principalID, roleDefinitionID string) (bool, error)
}

type Directory interface {
	ServicePrincipalByObjectID(ctx context.Context, objectID string) (*azure.ServicePrincipal, error)
	ApplicationByName(ctx context.Context, displayName string) (*azure.Application, error)
	CreateApplication(ctx context.Context, displayName string) (*azure.Application, error)
	AddPassword(ctx context.Context, appObjectID, displayName string, expiresAt time.Time) (*azure.Secret, error)
	ServicePrincipalByAppID(ctx context.Context, appID string) (*azure.ServicePrincipal, error)
	CreateServicePrincipal(ctx context.Context, appID string) (*azure.ServicePrincipal, error)
	ResourceAppRoles(ctx context.Context, resourceAppID string) (*azure.ResourceRoles, error)
	AppRoleGrants(ctx context.Context, principalObjectID string) ([]azure.AppRoleGrant, error)
	GrantAppRole(ctx context.Context, principalObjectID, resourceObjectID string, appRoleID uuid.UUID) (bool, error)
	ApplicationOwners(ctx context.Context, appObjectID string) ([]string, error)
	AddApplicationOwner(ctx context.Context, appObjectID, ownerObjectID string) (bool, error)
}

// Deps wires the capability interfaces into the orchestrator. The azure
// package clients satisfy all of them.
type Deps struct {
	Subscriptions  Subscriptions
	ResourceGroups ResourceGroups
	Providers      Providers
	Identities     Identities
	Roles          RoleAssignments
	Directory      Directory
}
