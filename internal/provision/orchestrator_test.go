package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/onboard-wizard/internal/azure"
	"github.com/sentinelops/onboard-wizard/internal/message"
)

func TestMain(m *testing.M) {
	message.SetSilentMode(true)
	os.Exit(m.Run())
}

const graphObjectID = "3a4f9e72-61b3-4f7e-9c3a-2d9be6a9f7d1"

// fakeState is the in-memory subscription and directory the capability
// fakes operate on. Visibility delays model the lag between a directory
// write and the object showing up in reads.
type fakeState struct {
	subscription    azure.Subscription
	subscriptionErr error

	providerState map[string]string

	groups         map[string]azure.ResourceGroup
	groupCreateErr error

	identities           map[string]azure.ManagedIdentity
	identityVisibleAfter int

	assignments          []azure.RoleAssignment
	roleListErr          error
	roleCreateErr        map[string]error
	conflictOnRoleCreate bool

	apps            map[string]azure.Application
	appVisibleAfter int

	sps            map[string]azure.ServicePrincipal
	spVisibleAfter int

	secrets   []azure.Secret
	secretErr error

	graph        azure.ResourceRoles
	grants       map[string][]azure.AppRoleGrant
	grantListErr error
	grantErr     map[uuid.UUID]error

	owners      map[string][]string
	ownerAddErr error

	calls map[string]int
}

func newFakeState() *fakeState {
	providerState := map[string]string{}
	for _, namespace := range azure.RequiredProviders {
		providerState[namespace] = "NotRegistered"
	}
	return &fakeState{
		subscription: azure.Subscription{
			ID:          testSubscriptionID,
			DisplayName: "Contoso Production",
			State:       "Enabled",
		},
		providerState:        providerState,
		groups:               map[string]azure.ResourceGroup{},
		identities:           map[string]azure.ManagedIdentity{},
		identityVisibleAfter: 2,
		roleCreateErr:        map[string]error{},
		apps:                 map[string]azure.Application{},
		appVisibleAfter:      1,
		sps:                  map[string]azure.ServicePrincipal{},
		spVisibleAfter:       1,
		graph: azure.ResourceRoles{
			ObjectID: graphObjectID,
			IDs: map[string]uuid.UUID{
				azure.PermissionApplicationReadWriteOwnedBy: uuid.MustParse("18a4783c-866b-4cc7-a460-3d5e5662c884"),
				azure.PermissionDirectoryReadAll:            uuid.MustParse("7ab1d382-f21e-4acd-a863-ba3e13f7da61"),
			},
		},
		grants:   map[string][]azure.AppRoleGrant{},
		grantErr: map[uuid.UUID]error{},
		owners:   map[string][]string{},
		calls:    map[string]int{},
	}
}

type fakeSubscriptions struct{ s *fakeState }

func (f *fakeSubscriptions) Get(ctx context.Context, subscriptionID string) (*azure.Subscription, error) {
	f.s.calls["Subscriptions.Get"]++
	if f.s.subscriptionErr != nil {
		return nil, f.s.subscriptionErr
	}
	if subscriptionID != f.s.subscription.ID {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	sub := f.s.subscription
	return &sub, nil
}

type fakeResourceGroups struct{ s *fakeState }

func (f *fakeResourceGroups) Get(ctx context.Context, name string) (*azure.ResourceGroup, error) {
	f.s.calls["ResourceGroups.Get"]++
	if group, ok := f.s.groups[name]; ok {
		return &group, nil
	}
	return nil, nil
}

func (f *fakeResourceGroups) Create(ctx context.Context, name, region string) (*azure.ResourceGroup, error) {
	f.s.calls["ResourceGroups.Create"]++
	if f.s.groupCreateErr != nil {
		return nil, f.s.groupCreateErr
	}
	group := azure.ResourceGroup{Name: name, Region: region}
	f.s.groups[name] = group
	return &group, nil
}

type fakeProviders struct{ s *fakeState }

func (f *fakeProviders) RegistrationState(ctx context.Context, namespace string) (string, error) {
	f.s.calls["Providers.RegistrationState"]++
	return f.s.providerState[namespace], nil
}

func (f *fakeProviders) Register(ctx context.Context, namespace string) error {
	f.s.calls["Providers.Register"]++
	f.s.providerState[namespace] = "Registered"
	return nil
}

type fakeIdentities struct{ s *fakeState }

func (f *fakeIdentities) Get(ctx context.Context, resourceGroup, name string) (*azure.ManagedIdentity, error) {
	f.s.calls["Identities.Get"]++
	if identity, ok := f.s.identities[resourceGroup+"/"+name]; ok {
		return &identity, nil
	}
	return nil, nil
}

func (f *fakeIdentities) Create(ctx context.Context, resourceGroup, name, region string) (*azure.ManagedIdentity, error) {
	f.s.calls["Identities.Create"]++
	identity := azure.ManagedIdentity{
		Name:          name,
		ResourceGroup: resourceGroup,
		Region:        region,
		PrincipalID:   uuid.NewString(),
		ClientID:      uuid.NewString(),
		TenantID:      uuid.NewString(),
	}
	f.s.identities[resourceGroup+"/"+name] = identity
	return &identity, nil
}

type fakeRoles struct{ s *fakeState }

func (f *fakeRoles) ListForPrincipal(ctx context.Context, scope, principalID string) ([]azure.RoleAssignment, error) {
	f.s.calls["Roles.ListForPrincipal"]++
	if f.s.roleListErr != nil {
		return nil, f.s.roleListErr
	}
	var out []azure.RoleAssignment
	for _, ra := range f.s.assignments {
		if ra.PrincipalID == principalID && ra.Scope == scope {
			out = append(out, ra)
		}
	}
	return out, nil
}

func (f *fakeRoles) Create(ctx context.Context, scope, principalID, roleDefinitionID string) (bool, error) {
	f.s.calls["Roles.Create"]++
	if err := f.s.roleCreateErr[roleGUID(roleDefinitionID)]; err != nil {
		return false, err
	}
	if f.s.conflictOnRoleCreate {
		return false, nil
	}
	for _, ra := range f.s.assignments {
		if ra.PrincipalID == principalID && ra.Scope == scope && roleGUID(ra.RoleDefinitionID) == roleGUID(roleDefinitionID) {
			return false, nil
		}
	}
	f.s.assignments = append(f.s.assignments, azure.RoleAssignment{
		PrincipalID:      principalID,
		RoleDefinitionID: roleDefinitionID,
		Scope:            scope,
	})
	return true, nil
}

type fakeDirectory struct{ s *fakeState }

func (f *fakeDirectory) ServicePrincipalByObjectID(ctx context.Context, objectID string) (*azure.ServicePrincipal, error) {
	f.s.calls["Directory.ServicePrincipalByObjectID"]++
	found := false
	for _, identity := range f.s.identities {
		if identity.PrincipalID == objectID {
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	if f.s.identityVisibleAfter > 0 {
		f.s.identityVisibleAfter--
		return nil, nil
	}
	return &azure.ServicePrincipal{ObjectID: objectID, DisplayName: "identity"}, nil
}

func (f *fakeDirectory) ApplicationByName(ctx context.Context, displayName string) (*azure.Application, error) {
	f.s.calls["Directory.ApplicationByName"]++
	for _, app := range f.s.apps {
		if app.DisplayName == displayName {
			if f.s.appVisibleAfter > 0 {
				f.s.appVisibleAfter--
				return nil, nil
			}
			found := app
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) CreateApplication(ctx context.Context, displayName string) (*azure.Application, error) {
	f.s.calls["Directory.CreateApplication"]++
	app := azure.Application{
		ObjectID:    uuid.NewString(),
		AppID:       uuid.NewString(),
		DisplayName: displayName,
	}
	f.s.apps[app.ObjectID] = app
	return &app, nil
}

func (f *fakeDirectory) AddPassword(ctx context.Context, appObjectID, displayName string, expiresAt time.Time) (*azure.Secret, error) {
	f.s.calls["Directory.AddPassword"]++
	if f.s.secretErr != nil {
		return nil, f.s.secretErr
	}
	if _, ok := f.s.apps[appObjectID]; !ok {
		return nil, fmt.Errorf("application %s not found", appObjectID)
	}
	secret := azure.Secret{
		KeyID:       uuid.NewString(),
		DisplayName: displayName,
		Value:       fmt.Sprintf("secret-%d", len(f.s.secrets)+1),
		ExpiresAt:   expiresAt,
	}
	f.s.secrets = append(f.s.secrets, secret)
	return &secret, nil
}

func (f *fakeDirectory) ServicePrincipalByAppID(ctx context.Context, appID string) (*azure.ServicePrincipal, error) {
	f.s.calls["Directory.ServicePrincipalByAppID"]++
	sp, ok := f.s.sps[appID]
	if !ok {
		return nil, nil
	}
	if f.s.spVisibleAfter > 0 {
		f.s.spVisibleAfter--
		return nil, nil
	}
	return &sp, nil
}

func (f *fakeDirectory) CreateServicePrincipal(ctx context.Context, appID string) (*azure.ServicePrincipal, error) {
	f.s.calls["Directory.CreateServicePrincipal"]++
	sp := azure.ServicePrincipal{
		ObjectID:    uuid.NewString(),
		AppID:       appID,
		DisplayName: "ingest",
	}
	f.s.sps[appID] = sp
	return &sp, nil
}

func (f *fakeDirectory) ResourceAppRoles(ctx context.Context, resourceAppID string) (*azure.ResourceRoles, error) {
	f.s.calls["Directory.ResourceAppRoles"]++
	if resourceAppID != azure.GraphAppID {
		return nil, fmt.Errorf("no service principal found for resource app %s", resourceAppID)
	}
	graph := f.s.graph
	return &graph, nil
}

func (f *fakeDirectory) AppRoleGrants(ctx context.Context, principalObjectID string) ([]azure.AppRoleGrant, error) {
	f.s.calls["Directory.AppRoleGrants"]++
	if f.s.grantListErr != nil {
		return nil, f.s.grantListErr
	}
	return f.s.grants[principalObjectID], nil
}

func (f *fakeDirectory) GrantAppRole(ctx context.Context, principalObjectID, resourceObjectID string, appRoleID uuid.UUID) (bool, error) {
	f.s.calls["Directory.GrantAppRole"]++
	if err := f.s.grantErr[appRoleID]; err != nil {
		return false, err
	}
	for _, grant := range f.s.grants[principalObjectID] {
		if grant.AppRoleID == appRoleID && grant.ResourceObjectID == resourceObjectID {
			return false, nil
		}
	}
	f.s.grants[principalObjectID] = append(f.s.grants[principalObjectID], azure.AppRoleGrant{
		AppRoleID:        appRoleID,
		ResourceObjectID: resourceObjectID,
	})
	return true, nil
}

func (f *fakeDirectory) ApplicationOwners(ctx context.Context, appObjectID string) ([]string, error) {
	f.s.calls["Directory.ApplicationOwners"]++
	return f.s.owners[appObjectID], nil
}

func (f *fakeDirectory) AddApplicationOwner(ctx context.Context, appObjectID, ownerObjectID string) (bool, error) {
	f.s.calls["Directory.AddApplicationOwner"]++
	if f.s.ownerAddErr != nil {
		return false, f.s.ownerAddErr
	}
	for _, owner := range f.s.owners[appObjectID] {
		if owner == ownerObjectID {
			return false, nil
		}
	}
	f.s.owners[appObjectID] = append(f.s.owners[appObjectID], ownerObjectID)
	return true, nil
}

func fakeDeps(s *fakeState) Deps {
	return Deps{
		Subscriptions:  &fakeSubscriptions{s},
		ResourceGroups: &fakeResourceGroups{s},
		Providers:      &fakeProviders{s},
		Identities:     &fakeIdentities{s},
		Roles:          &fakeRoles{s},
		Directory:      &fakeDirectory{s},
	}
}

func validInputs() Inputs {
	return Inputs{
		CustomerPrefix: "contoso",
		SubscriptionID: testSubscriptionID,
		Region:         "eastus",
	}
}

func newTestOrchestrator(in Inputs, s *fakeState) *Orchestrator {
	o := New(in, fakeDeps(s))
	o.PollInterval = time.Millisecond
	o.MaxAttempts = 5
	return o
}

func TestRunProvisionsFreshSubscription(t *testing.T) {
	s := newFakeState()
	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.ResourceGroupCreated)
	assert.False(t, summary.ResourceGroupFound)
	assert.True(t, summary.IdentityCreated)
	assert.False(t, summary.IdentityFound)
	assert.Equal(t, []string{
		"Contributor",
		"Monitoring Contributor",
		"Storage Blob Data Contributor",
		"Microsoft Sentinel Contributor",
	}, summary.RoleAssignments)
	assert.Empty(t, summary.RolesAlreadyAssigned)
	assert.True(t, summary.ApplicationCreated)
	assert.False(t, summary.ApplicationFound)
	assert.True(t, summary.ServicePrincipalCreated)
	assert.False(t, summary.ServicePrincipalFound)
	assert.True(t, summary.SecretCreated)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), summary.SecretExpiresAt, time.Minute)
	assert.Equal(t, []string{
		azure.PermissionApplicationReadWriteOwnedBy,
		azure.PermissionDirectoryReadAll,
	}, summary.GraphPermissions)
	assert.Empty(t, summary.GraphPermissionsAlreadyGranted)
	assert.True(t, summary.OwnershipAdded)
	assert.False(t, summary.OwnershipAlreadyPresent)
	assert.Equal(t, azure.RequiredProviders, summary.ProvidersRegistered)
	assert.Empty(t, summary.Warnings)
	assert.False(t, summary.FinishedAt.IsZero())

	assert.Contains(t, s.groups, "contoso-sentinel-rg")
	assert.Contains(t, s.identities, "contoso-sentinel-rg/contoso-sentinel-umi")
	assert.Len(t, s.assignments, 4)
	assert.Len(t, s.apps, 1)
	assert.Len(t, s.sps, 1)
	assert.Len(t, s.secrets, 1)
}

func TestRunIsIdempotent(t *testing.T) {
	s := newFakeState()
	_, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.ResourceGroupCreated)
	assert.True(t, summary.ResourceGroupFound)
	assert.False(t, summary.IdentityCreated)
	assert.True(t, summary.IdentityFound)
	assert.Empty(t, summary.RoleAssignments)
	assert.Len(t, summary.RolesAlreadyAssigned, 4)
	assert.False(t, summary.ApplicationCreated)
	assert.True(t, summary.ApplicationFound)
	assert.False(t, summary.ServicePrincipalCreated)
	assert.True(t, summary.ServicePrincipalFound)
	assert.True(t, summary.SecretCreated)
	assert.Empty(t, summary.GraphPermissions)
	assert.Len(t, summary.GraphPermissionsAlreadyGranted, 2)
	assert.False(t, summary.OwnershipAdded)
	assert.True(t, summary.OwnershipAlreadyPresent)
	assert.Empty(t, summary.ProvidersRegistered)
	assert.Empty(t, summary.Warnings)

	// Nothing new in the subscription except the rotated secret.
	assert.Len(t, s.groups, 1)
	assert.Len(t, s.identities, 1)
	assert.Len(t, s.assignments, 4)
	assert.Len(t, s.apps, 1)
	assert.Len(t, s.sps, 1)
	assert.Len(t, s.secrets, 2)

	// Present resources were never re-submitted for creation.
	assert.Equal(t, 4, s.calls["Roles.Create"])
	assert.Equal(t, 2, s.calls["Directory.GrantAppRole"])
	assert.Equal(t, 1, s.calls["Directory.CreateApplication"])
	assert.Equal(t, 1, s.calls["Directory.CreateServicePrincipal"])
	assert.Equal(t, 1, s.calls["Identities.Create"])
	assert.Equal(t, 1, s.calls["ResourceGroups.Create"])
}

func TestRunRejectsInvalidInputsBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name   string
		inputs Inputs
	}{
		{
			name:   "short prefix",
			inputs: Inputs{CustomerPrefix: "ab", SubscriptionID: testSubscriptionID, Region: "eastus"},
		},
		{
			name:   "short subscription id",
			inputs: Inputs{CustomerPrefix: "contoso", SubscriptionID: "1234", Region: "eastus"},
		},
		{
			name:   "unsupported region",
			inputs: Inputs{CustomerPrefix: "contoso", SubscriptionID: testSubscriptionID, Region: "moonbase1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeState()
			_, err := newTestOrchestrator(tt.inputs, s).Run(context.Background())
			var confErr *ConfigurationError
			require.ErrorAs(t, err, &confErr)
			assert.Empty(t, s.calls)
		})
	}
}

func TestRunTimesOutWhenIdentityNeverVisible(t *testing.T) {
	s := newFakeState()
	s.identityVisibleAfter = 1 << 30
	o := newTestOrchestrator(validInputs(), s)
	_, err := o.Run(context.Background())

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, o.MaxAttempts, timeoutErr.Attempts)
	assert.Contains(t, timeoutErr.Resource, "contoso-sentinel-umi")

	// The run stopped, nothing past the identity was touched.
	assert.Zero(t, s.calls["Directory.CreateApplication"])
	assert.Empty(t, s.apps)
	assert.Empty(t, s.secrets)
}

func TestRunContinuesWhenRoleAssignmentDenied(t *testing.T) {
	s := newFakeState()
	s.roleCreateErr[azure.RoleSentinelContributor] = &azcore.ResponseError{
		ErrorCode:  "AuthorizationFailed",
		StatusCode: http.StatusForbidden,
	}

	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, summary.RoleAssignments, 3)
	assert.NotContains(t, summary.RoleAssignments, "Microsoft Sentinel Contributor")
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "Microsoft Sentinel Contributor")
	assert.Contains(t, summary.Warnings[0], "not allowed")
	assert.Len(t, s.assignments, 3)

	// The flow carried on past the failure.
	assert.True(t, summary.SecretCreated)
	assert.True(t, summary.OwnershipAdded)
}

func TestRunContinuesWhenGraphGrantDenied(t *testing.T) {
	s := newFakeState()
	s.grantErr[s.graph.IDs[azure.PermissionDirectoryReadAll]] = errors.New("Authorization_RequestDenied")

	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{azure.PermissionApplicationReadWriteOwnedBy}, summary.GraphPermissions)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], azure.PermissionDirectoryReadAll)
	assert.True(t, summary.OwnershipAdded)
}

func TestRunWarnsWhenOwnershipDenied(t *testing.T) {
	s := newFakeState()
	s.ownerAddErr = errors.New("Authorization_RequestDenied")

	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.OwnershipAdded)
	assert.False(t, summary.OwnershipAlreadyPresent)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "owner")
}

func TestRunTreatsRoleCreationConflictsAsSuccess(t *testing.T) {
	s := newFakeState()
	s.conflictOnRoleCreate = true

	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, summary.RoleAssignments)
	assert.Len(t, summary.RolesAlreadyAssigned, 4)
	assert.Empty(t, summary.Warnings)
}

func TestRunSurvivesRoleListFailure(t *testing.T) {
	s := newFakeState()
	s.roleListErr = errors.New("AuthorizationFailed: caller may not list role assignments")

	summary, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.NoError(t, err)

	// Without the list every assignment is attempted, creation itself
	// tolerates duplicates.
	assert.Len(t, summary.RoleAssignments, 4)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "list")
}

func TestRunSkipsProviderRegistration(t *testing.T) {
	in := validInputs()
	in.SkipModuleInstall = true
	s := newFakeState()

	summary, err := newTestOrchestrator(in, s).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, summary.ProvidersRegistered)
	assert.Zero(t, s.calls["Providers.RegistrationState"])
	assert.Zero(t, s.calls["Providers.Register"])
}

func TestRunAbortsWhenSecretIssueFails(t *testing.T) {
	s := newFakeState()
	s.secretErr = errors.New("Authorization_RequestDenied")

	_, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.Error(t, err)

	// Grant and ownership steps never ran.
	assert.Zero(t, s.calls["Directory.GrantAppRole"])
	assert.Zero(t, s.calls["Directory.AddApplicationOwner"])
}

func TestRunAbortsWhenSubscriptionUnreachable(t *testing.T) {
	s := newFakeState()
	s.subscriptionErr = errors.New("InvalidAuthenticationTokenTenant")

	_, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.Error(t, err)

	assert.Zero(t, s.calls["ResourceGroups.Create"])
	assert.Empty(t, s.groups)
}

func TestRunAbortsWhenResourceGroupCreateFails(t *testing.T) {
	s := newFakeState()
	s.groupCreateErr = errors.New("AuthorizationFailed: caller may not create resource groups")

	_, err := newTestOrchestrator(validInputs(), s).Run(context.Background())
	require.Error(t, err)

	assert.Zero(t, s.calls["Identities.Create"])
	assert.Empty(t, s.identities)
}
