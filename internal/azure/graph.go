package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/google/uuid"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/applications"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/serviceprincipals"
)

// DirectoryClient wraps the Graph API calls the wizard needs. Creation
// calls in the directory are not idempotent, callers check existence first
// and treat conflicts as success.
type DirectoryClient struct {
	client *msgraphsdk.GraphServiceClient
}

func NewDirectoryClient(credential azcore.TokenCredential) (*DirectoryClient, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(credential, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client, %w", err)
	}
	return &DirectoryClient{client: client}, nil
}

// ApplicationByName returns nil without error when no application with the
// given display name exists.
func (d *DirectoryClient) ApplicationByName(ctx context.Context, displayName string) (*Application, error) {
	appList, err := d.client.Applications().Get(ctx, &applications.ApplicationsRequestBuilderGetRequestConfiguration{
		QueryParameters: &applications.ApplicationsRequestBuilderGetQueryParameters{
			Filter: to.Ptr("displayName eq '" + displayName + "'"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check if application exists, %w", err)
	}
	apps := appList.GetValue()
	if len(apps) == 0 {
		return nil, nil
	}
	return &Application{
		ObjectID:    deref(apps[0].GetId()),
		AppID:       deref(apps[0].GetAppId()),
		DisplayName: deref(apps[0].GetDisplayName()),
	}, nil
}

func (d *DirectoryClient) CreateApplication(ctx context.Context, displayName string) (*Application, error) {
	reqBody := models.NewApplication()
	reqBody.SetDisplayName(to.Ptr(displayName))
	reqBody.SetSignInAudience(to.Ptr("AzureADMyOrg"))
	result, err := d.client.Applications().Post(ctx, reqBody, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create application, %w", err)
	}
	return &Application{
		ObjectID:    deref(result.GetId()),
		AppID:       deref(result.GetAppId()),
		DisplayName: deref(result.GetDisplayName()),
	}, nil
}

// AddPassword issues a fresh client secret on the application. The secret
// text is only readable in this response, the directory never returns it
// again.
func (d *DirectoryClient) AddPassword(ctx context.Context, appObjectID, displayName string, expiresAt time.Time) (*Secret, error) {
	credential := models.NewPasswordCredential()
	credential.SetDisplayName(to.Ptr(displayName))
	credential.SetEndDateTime(to.Ptr(expiresAt))
	reqBody := applications.NewItemAddPasswordPostRequestBody()
	reqBody.SetPasswordCredential(credential)
	result, err := d.client.Applications().ByApplicationId(appObjectID).AddPassword().Post(ctx, reqBody, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to add application password, %w", err)
	}
	secret := Secret{
		DisplayName: deref(result.GetDisplayName()),
		Value:       deref(result.GetSecretText()),
	}
	if keyID := result.GetKeyId(); keyID != nil {
		secret.KeyID = keyID.String()
	}
	if end := result.GetEndDateTime(); end != nil {
		secret.ExpiresAt = *end
	}
	return &secret, nil
}

// ServicePrincipalByAppID returns nil without error when the application
// has no service principal in the tenant yet.
func (d *DirectoryClient) ServicePrincipalByAppID(ctx context.Context, appID string) (*ServicePrincipal, error) {
	spList, err := d.client.ServicePrincipals().Get(ctx, &serviceprincipals.ServicePrincipalsRequestBuilderGetRequestConfiguration{
		QueryParameters: &serviceprincipals.ServicePrincipalsRequestBuilderGetQueryParameters{
			Filter: to.Ptr("appId eq '" + appID + "'"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check if service principal exists, %w", err)
	}
	sps := spList.GetValue()
	if len(sps) == 0 {
		return nil, nil
	}
	return &ServicePrincipal{
		ObjectID:    deref(sps[0].GetId()),
		AppID:       deref(sps[0].GetAppId()),
		DisplayName: deref(sps[0].GetDisplayName()),
	}, nil
}

// ServicePrincipalByObjectID returns nil without error while the directory
// object is not visible yet.
func (d *DirectoryClient) ServicePrincipalByObjectID(ctx context.Context, objectID string) (*ServicePrincipal, error) {
	sp, err := d.client.ServicePrincipals().ByServicePrincipalId(objectID).Get(ctx, nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get service principal, %w", err)
	}
	return &ServicePrincipal{
		ObjectID:    deref(sp.GetId()),
		AppID:       deref(sp.GetAppId()),
		DisplayName: deref(sp.GetDisplayName()),
	}, nil
}

func (d *DirectoryClient) CreateServicePrincipal(ctx context.Context, appID string) (*ServicePrincipal, error) {
	reqBody := models.NewServicePrincipal()
	reqBody.SetAppId(to.Ptr(appID))
	result, err := d.client.ServicePrincipals().Post(ctx, reqBody, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service principal, %w", err)
	}
	return &ServicePrincipal{
		ObjectID:    deref(result.GetId()),
		AppID:       deref(result.GetAppId()),
		DisplayName: deref(result.GetDisplayName()),
	}, nil
}

// ResourceAppRoles resolves the application roles a resource service
// principal exposes, keyed by role value.
func (d *DirectoryClient) ResourceAppRoles(ctx context.Context, resourceAppID string) (*ResourceRoles, error) {
	spList, err := d.client.ServicePrincipals().Get(ctx, &serviceprincipals.ServicePrincipalsRequestBuilderGetRequestConfiguration{
		QueryParameters: &serviceprincipals.ServicePrincipalsRequestBuilderGetQueryParameters{
			Filter: to.Ptr("appId eq '" + resourceAppID + "'"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get resource service principal, %w", err)
	}
	sps := spList.GetValue()
	if len(sps) == 0 {
		return nil, fmt.Errorf("no service principal found for resource app %s", resourceAppID)
	}
	roles := ResourceRoles{
		ObjectID: deref(sps[0].GetId()),
		IDs:      map[string]uuid.UUID{},
	}
	for _, role := range sps[0].GetAppRoles() {
		if role.GetValue() == nil || role.GetId() == nil {
			continue
		}
		roles.IDs[*role.GetValue()] = *role.GetId()
	}
	return &roles, nil
}

func (d *DirectoryClient) AppRoleGrants(ctx context.Context, principalObjectID string) ([]AppRoleGrant, error) {
	resp, err := d.client.ServicePrincipals().ByServicePrincipalId(principalObjectID).AppRoleAssignments().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list app role assignments, %w", err)
	}
	var grants []AppRoleGrant
	for _, assignment := range resp.GetValue() {
		if assignment.GetAppRoleId() == nil || assignment.GetResourceId() == nil {
			continue
		}
		grants = append(grants, AppRoleGrant{
			AppRoleID:        *assignment.GetAppRoleId(),
			ResourceObjectID: assignment.GetResourceId().String(),
		})
	}
	return grants, nil
}

// GrantAppRole returns false without error when the grant already exists.
func (d *DirectoryClient) GrantAppRole(ctx context.Context, principalObjectID, resourceObjectID string, appRoleID uuid.UUID) (bool, error) {
	principalID, err := uuid.Parse(principalObjectID)
	if err != nil {
		return false, fmt.Errorf("failed to parse principal object id, %w", err)
	}
	resourceID, err := uuid.Parse(resourceObjectID)
	if err != nil {
		return false, fmt.Errorf("failed to parse resource object id, %w", err)
	}
	reqBody := models.NewAppRoleAssignment()
	reqBody.SetPrincipalId(&principalID)
	reqBody.SetResourceId(&resourceID)
	reqBody.SetAppRoleId(&appRoleID)
	_, err = d.client.ServicePrincipals().ByServicePrincipalId(principalObjectID).AppRoleAssignments().Post(ctx, reqBody, nil)
	if err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to grant app role, %w", err)
	}
	return true, nil
}

func (d *DirectoryClient) ApplicationOwners(ctx context.Context, appObjectID string) ([]string, error) {
	resp, err := d.client.Applications().ByApplicationId(appObjectID).Owners().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list application owners, %w", err)
	}
	var owners []string
	for _, obj := range resp.GetValue() {
		if id := obj.GetId(); id != nil {
			owners = append(owners, *id)
		}
	}
	return owners, nil
}

// AddApplicationOwner returns false without error when the owner is
// already present.
func (d *DirectoryClient) AddApplicationOwner(ctx context.Context, appObjectID, ownerObjectID string) (bool, error) {
	reqBody := models.NewReferenceCreate()
	odataId := fmt.Sprintf("https://graph.microsoft.com/v1.0/directoryObjects/%s", ownerObjectID)
	reqBody.SetOdataId(&odataId)
	if err := d.client.Applications().ByApplicationId(appObjectID).Owners().Ref().Post(ctx, reqBody, nil); err != nil {
		if IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to add application owner, %w", err)
	}
	return true, nil
}
