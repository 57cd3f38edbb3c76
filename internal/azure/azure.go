package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/golang-jwt/jwt/v5"
)

// Clients bundles the ARM and Graph clients for a single subscription,
// all sharing one credential chain.
type Clients struct {
	SubscriptionID string
	Subscriptions  *SubscriptionsClient
	ResourceGroups *ResourceGroupsClient
	Providers      *ProvidersClient
	Identities     *IdentitiesClient
	Roles          *RoleAssignmentsClient
	Directory      *DirectoryClient

	credential azcore.TokenCredential
}

// NewClients builds the client bundle from the default credential chain,
// picking up az CLI logins, environment variables and managed identities.
func NewClients(subscriptionID string) (*Clients, error) {
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load default Azure credentials: %w", err)
	}

	subsFactory, err := armsubscriptions.NewClientFactory(credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	rgClient, err := armresources.NewResourceGroupsClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	provClient, err := armresources.NewProvidersClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create providers client: %w", err)
	}
	msiClient, err := armmsi.NewUserAssignedIdentitiesClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create msi client: %w", err)
	}
	authFactory, err := armauthorization.NewClientFactory(subscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization client: %w", err)
	}
	directory, err := NewDirectoryClient(credential)
	if err != nil {
		return nil, err
	}

	return &Clients{
		SubscriptionID: subscriptionID,
		Subscriptions:  &SubscriptionsClient{api: subsFactory.NewClient()},
		ResourceGroups: &ResourceGroupsClient{api: rgClient},
		Providers:      &ProvidersClient{api: provClient},
		Identities:     &IdentitiesClient{api: msiClient},
		Roles:          &RoleAssignmentsClient{api: authFactory.NewRoleAssignmentsClient()},
		Directory:      directory,
		credential:     credential,
	}, nil
}

// CallerUPN extracts the signed-in principal's name from the ARM access
// token. Best effort, tokens of service principals carry no unique_name.
func (c *Clients) CallerUPN(ctx context.Context) (string, error) {
	token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{"https://management.azure.com//.default"}})
	if err != nil {
		return "", fmt.Errorf("failed to get access token, %w", err)
	}
	claims := make(jwt.MapClaims)
	if _, _, err = jwt.NewParser().ParseUnverified(token.Token, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token, %w", err)
	}
	name, _ := claims["unique_name"].(string)
	if name == "" {
		name, _ = claims["appid"].(string)
	}
	return name, nil
}
