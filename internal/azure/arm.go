package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/google/uuid"
)

type SubscriptionsClient struct {
	api *armsubscriptions.Client
}

func (c *SubscriptionsClient) Get(ctx context.Context, subscriptionID string) (*Subscription, error) {
	resp, err := c.api.Get(ctx, subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub := Subscription{
		ID:          deref(resp.SubscriptionID),
		DisplayName: deref(resp.DisplayName),
	}
	if resp.State != nil {
		sub.State = string(*resp.State)
	}
	return &sub, nil
}

type ResourceGroupsClient struct {
	api *armresources.ResourceGroupsClient
}

// Get returns nil without error when the resource group does not exist.
func (c *ResourceGroupsClient) Get(ctx context.Context, name string) (*ResourceGroup, error) {
	resp, err := c.api.Get(ctx, name, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource group: %w", err)
	}
	return &ResourceGroup{
		Name:   deref(resp.Name),
		Region: deref(resp.Location),
	}, nil
}

func (c *ResourceGroupsClient) Create(ctx context.Context, name, region string) (*ResourceGroup, error) {
	resp, err := c.api.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(region),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource group: %w", err)
	}
	return &ResourceGroup{
		Name:   deref(resp.Name),
		Region: deref(resp.Location),
	}, nil
}

type ProvidersClient struct {
	api *armresources.ProvidersClient
}

func (c *ProvidersClient) RegistrationState(ctx context.Context, namespace string) (string, error) {
	resp, err := c.api.Get(ctx, namespace, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get resource provider %s: %w", namespace, err)
	}
	return deref(resp.RegistrationState), nil
}

func (c *ProvidersClient) Register(ctx context.Context, namespace string) error {
	if _, err := c.api.Register(ctx, namespace, nil); err != nil {
		return fmt.Errorf("failed to register resource provider %s: %w", namespace, err)
	}
	return nil
}

type IdentitiesClient struct {
	api *armmsi.UserAssignedIdentitiesClient
}

// Get returns nil without error when the identity does not exist.
func (c *IdentitiesClient) Get(ctx context.Context, resourceGroup, name string) (*ManagedIdentity, error) {
	resp, err := c.api.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get managed identity: %w", err)
	}
	return identityFrom(resp.Identity, resourceGroup), nil
}

func (c *IdentitiesClient) Create(ctx context.Context, resourceGroup, name, region string) (*ManagedIdentity, error) {
	resp, err := c.api.CreateOrUpdate(ctx, resourceGroup, name, armmsi.Identity{
		Location: to.Ptr(region),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create managed identity: %w", err)
	}
	return identityFrom(resp.Identity, resourceGroup), nil
}

func identityFrom(identity armmsi.Identity, resourceGroup string) *ManagedIdentity {
	umi := ManagedIdentity{
		Name:          deref(identity.Name),
		ResourceGroup: resourceGroup,
		Region:        deref(identity.Location),
	}
	if identity.Properties != nil {
		umi.PrincipalID = deref(identity.Properties.PrincipalID)
		umi.ClientID = deref(identity.Properties.ClientID)
		umi.TenantID = deref(identity.Properties.TenantID)
	}
	return &umi
}

type RoleAssignmentsClient struct {
	api *armauthorization.RoleAssignmentsClient
}

func (c *RoleAssignmentsClient) ListForPrincipal(ctx context.Context, scope, principalID string) ([]RoleAssignment, error) {
	pager := c.api.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{
		Filter: to.Ptr(fmt.Sprintf("principalId eq '%s'", principalID)),
	})
	var assignments []RoleAssignment
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list role assignments: %w", err)
		}
		for _, ra := range page.Value {
			if ra.Properties == nil {
				continue
			}
			assignments = append(assignments, RoleAssignment{
				PrincipalID:      deref(ra.Properties.PrincipalID),
				RoleDefinitionID: deref(ra.Properties.RoleDefinitionID),
				Scope:            deref(ra.Properties.Scope),
			})
		}
	}
	return assignments, nil
}

// Create returns false without error when the assignment already exists.
func (c *RoleAssignmentsClient) Create(ctx context.Context, scope, principalID, roleDefinitionID string) (bool, error) {
	_, err := c.api.Create(ctx, scope, uuid.New().String(), armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      to.Ptr(principalID),
			RoleDefinitionID: to.Ptr(roleDefinitionID),
			PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
		},
	}, nil)
	if err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create role assignment: %w", err)
	}
	return true, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
