package azure

import (
	"time"

	"github.com/google/uuid"
)

type Subscription struct {
	ID          string
	DisplayName string
	State       string
}

type ResourceGroup struct {
	Name   string
	Region string
}

type ManagedIdentity struct {
	Name          string
	ResourceGroup string
	Region        string
	// PrincipalID is the object id of the identity's service principal
	// in the directory. It lags behind the ARM resource after creation.
	PrincipalID string
	ClientID    string
	TenantID    string
}

type RoleAssignment struct {
	PrincipalID      string
	RoleDefinitionID string
	Scope            string
}

type Application struct {
	ObjectID    string
	AppID       string
	DisplayName string
}

type ServicePrincipal struct {
	ObjectID    string
	AppID       string
	DisplayName string
}

type Secret struct {
	KeyID       string
	DisplayName string
	Value       string
	ExpiresAt   time.Time
}

type AppRoleGrant struct {
	AppRoleID        uuid.UUID
	ResourceObjectID string
}

// ResourceRoles describes the application roles exposed by a resource
// service principal, keyed by role value (for example "Directory.Read.All").
type ResourceRoles struct {
	ObjectID string
	IDs      map[string]uuid.UUID
}
