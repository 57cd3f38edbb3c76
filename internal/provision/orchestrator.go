package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sentinelops/onboard-wizard/internal/azure"
	"github.com/sentinelops/onboard-wizard/internal/message"
)

const (
	secretDisplayName = "bootstrap"
	secretLifetime    = 24 * time.Hour
)

// Orchestrator drives one onboarding run. Every step checks for the
// resource first and only creates what is missing, so a rerun against a
// half-provisioned subscription converges instead of failing.
//
// Two concurrent runs for the same customer may race each other, there is
// no distributed lock. Creation calls tolerate losing such a race, a
// conflict answer counts as success.
type Orchestrator struct {
	PollInterval time.Duration
	MaxAttempts  int

	in   Inputs
	deps Deps
}

func New(in Inputs, deps Deps) *Orchestrator {
	return &Orchestrator{
		PollInterval: defaultPollInterval,
		MaxAttempts:  defaultMaxAttempts,
		in:           in,
		deps:         deps,
	}
}

// Run executes the onboarding flow and reports what changed. Failures on
// critical steps abort the run, non-critical ones are recorded as
// warnings and the flow continues.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if err := o.in.Validate(); err != nil {
		return nil, err
	}
	summary := newSummary(o.in)

	sub, err := o.deps.Subscriptions.Get(ctx, o.in.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify subscription access: %w", err)
	}
	message.Info("Onboarding customer %q into subscription %q (%s)", o.in.prefix(), sub.DisplayName, sub.ID)

	if o.in.SkipModuleInstall {
		message.Debug("Skipping resource provider registration")
	} else {
		o.registerProviders(ctx, summary)
	}

	if err := o.ensureResourceGroup(ctx, summary); err != nil {
		return nil, err
	}
	identity, err := o.ensureManagedIdentity(ctx, summary)
	if err != nil {
		return nil, err
	}
	o.ensureRoleAssignments(ctx, summary, identity)

	app, err := o.ensureApplication(ctx, summary)
	if err != nil {
		return nil, err
	}
	if err := o.ensureServicePrincipal(ctx, summary, app); err != nil {
		return nil, err
	}
	if err := o.rotateSecret(ctx, summary, app); err != nil {
		return nil, err
	}

	o.ensureGraphPermissions(ctx, summary, identity)
	o.ensureOwnership(ctx, summary, app, identity)

	summary.FinishedAt = time.Now().UTC()
	return summary, nil
}

func (o *Orchestrator) registerProviders(ctx context.Context, summary *Summary) {
	for _, namespace := range azure.RequiredProviders {
		state, err := o.deps.Providers.RegistrationState(ctx, namespace)
		if err != nil {
			o.warn(summary, "failed to check resource provider %s: %v", namespace, err)
			continue
		}
		if strings.EqualFold(state, "Registered") {
			message.Debug("Resource provider already registered: %s", namespace)
			continue
		}
		message.Info("Registering resource provider: az provider register --namespace %s", namespace)
		if err := o.deps.Providers.Register(ctx, namespace); err != nil {
			o.warn(summary, "failed to register resource provider %s: %v", namespace, err)
			continue
		}
		summary.ProvidersRegistered = append(summary.ProvidersRegistered, namespace)
	}
}

func (o *Orchestrator) ensureResourceGroup(ctx context.Context, summary *Summary) error {
	name := o.in.ResourceGroupName()
	group, err := o.deps.ResourceGroups.Get(ctx, name)
	if err != nil {
		return err
	}
	if group != nil {
		message.Info("Resource group already exists: %s", name)
		summary.ResourceGroupFound = true
		return nil
	}
	message.Info("Creating resource group: az group create --name %s --location %s", name, o.in.Region)
	if _, err := o.deps.ResourceGroups.Create(ctx, name, o.in.Region); err != nil {
		return err
	}
	summary.ResourceGroupCreated = true
	return nil
}

func (o *Orchestrator) ensureManagedIdentity(ctx context.Context, summary *Summary) (*azure.ManagedIdentity, error) {
	name := o.in.IdentityName()
	identity, err := o.deps.Identities.Get(ctx, o.in.ResourceGroupName(), name)
	if err != nil {
		return nil, err
	}
	if identity != nil {
		message.Info("Managed identity already exists: %s", name)
		summary.IdentityFound = true
		return identity, nil
	}
	message.Info("Creating managed identity: az identity create --name %s --resource-group %s", name, o.in.ResourceGroupName())
	identity, err = o.deps.Identities.Create(ctx, o.in.ResourceGroupName(), name, o.in.Region)
	if err != nil {
		return nil, err
	}
	summary.IdentityCreated = true

	// The directory object shows up a while after the ARM resource.
	message.Info("Waiting for the managed identity to become visible in the directory")
	if _, err := pollUntil(ctx, fmt.Sprintf("managed identity %s directory object", name), o.PollInterval, o.MaxAttempts,
		func(ctx context.Context) (*azure.ServicePrincipal, bool, error) {
			sp, err := o.deps.Directory.ServicePrincipalByObjectID(ctx, identity.PrincipalID)
			if err != nil {
				return nil, false, err
			}
			return sp, sp != nil, nil
		}); err != nil {
		return nil, err
	}
	return identity, nil
}

func (o *Orchestrator) ensureRoleAssignments(ctx context.Context, summary *Summary, identity *azure.ManagedIdentity) {
	scope := o.in.Scope()
	existing, err := o.deps.Roles.ListForPrincipal(ctx, scope, identity.PrincipalID)
	if err != nil {
		// Creation tolerates duplicates, keep going without the list.
		o.warn(summary, "failed to list existing role assignments: %v", err)
	}
	assigned := map[string]bool{}
	for _, ra := range existing {
		if strings.EqualFold(ra.Scope, scope) {
			assigned[roleGUID(ra.RoleDefinitionID)] = true
		}
	}

	for _, roleID := range azure.IngestRoles {
		name := azure.RoleName(roleID)
		if assigned[roleGUID(roleID)] {
			message.Info("Role assignment already exists: %s", name)
			summary.RolesAlreadyAssigned = append(summary.RolesAlreadyAssigned, name)
			continue
		}
		message.Info("Assigning %s to the managed identity: az role assignment create --assignee %s --role %s --scope %s",
			name, identity.PrincipalID, roleID, scope)
		created, err := o.deps.Roles.Create(ctx, scope, identity.PrincipalID, azure.RoleDefinitionID(o.in.SubscriptionID, roleID))
		if err != nil {
			if azure.IsPermissionDenied(err) {
				o.warn(summary, "not allowed to assign %s, an Owner of the subscription has to rerun this step: %v", name, err)
			} else {
				o.warn(summary, "failed to assign %s: %v", name, err)
			}
			continue
		}
		if created {
			summary.RoleAssignments = append(summary.RoleAssignments, name)
		} else {
			message.Info("Role assignment already exists: %s", name)
			summary.RolesAlreadyAssigned = append(summary.RolesAlreadyAssigned, name)
		}
	}
}

func (o *Orchestrator) ensureApplication(ctx context.Context, summary *Summary) (*azure.Application, error) {
	name := o.in.ApplicationName()
	app, err := o.deps.Directory.ApplicationByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if app != nil {
		message.Info("Application registration already exists: %s", name)
		summary.ApplicationFound = true
		return app, nil
	}
	message.Info("Creating application registration: az ad app create --display-name %s", name)
	app, err = o.deps.Directory.CreateApplication(ctx, name)
	if err != nil {
		return nil, err
	}
	summary.ApplicationCreated = true

	message.Info("Waiting for the application registration to become visible in the directory")
	if _, err := pollUntil(ctx, fmt.Sprintf("application %s", name), o.PollInterval, o.MaxAttempts,
		func(ctx context.Context) (*azure.Application, bool, error) {
			found, err := o.deps.Directory.ApplicationByName(ctx, name)
			if err != nil {
				return nil, false, err
			}
			return found, found != nil, nil
		}); err != nil {
		return nil, err
	}
	return app, nil
}

func (o *Orchestrator) ensureServicePrincipal(ctx context.Context, summary *Summary, app *azure.Application) error {
	sp, err := o.deps.Directory.ServicePrincipalByAppID(ctx, app.AppID)
	if err != nil {
		return err
	}
	if sp != nil {
		message.Info("Service principal already exists for application: %s", app.DisplayName)
		summary.ServicePrincipalFound = true
		return nil
	}
	message.Info("Creating service principal: az ad sp create --id %s", app.AppID)
	if _, err := o.deps.Directory.CreateServicePrincipal(ctx, app.AppID); err != nil {
		return err
	}
	summary.ServicePrincipalCreated = true

	message.Info("Waiting for the service principal to become visible in the directory")
	if _, err := pollUntil(ctx, fmt.Sprintf("service principal for application %s", app.AppID), o.PollInterval, o.MaxAttempts,
		func(ctx context.Context) (*azure.ServicePrincipal, bool, error) {
			found, err := o.deps.Directory.ServicePrincipalByAppID(ctx, app.AppID)
			if err != nil {
				return nil, false, err
			}
			return found, found != nil, nil
		}); err != nil {
		return err
	}
	return nil
}

// rotateSecret issues a fresh one day bootstrap secret on every run, also
// when everything else was found in place. Old secrets age out on their
// own, the directory keeps them until expiry.
func (o *Orchestrator) rotateSecret(ctx context.Context, summary *Summary, app *azure.Application) error {
	expiresAt := time.Now().UTC().Add(secretLifetime)
	message.Info("Rotating bootstrap secret: az ad app credential reset --id %s --display-name %s --append", app.AppID, secretDisplayName)
	secret, err := o.deps.Directory.AddPassword(ctx, app.ObjectID, secretDisplayName, expiresAt)
	if err != nil {
		return err
	}
	summary.SecretCreated = true
	summary.SecretExpiresAt = secret.ExpiresAt
	message.Credential("Bootstrap secret for %s, valid until %s: %s", app.DisplayName, secret.ExpiresAt.Format(time.RFC3339), secret.Value)
	return nil
}

func (o *Orchestrator) ensureGraphPermissions(ctx context.Context, summary *Summary, identity *azure.ManagedIdentity) {
	graph, err := o.deps.Directory.ResourceAppRoles(ctx, azure.GraphAppID)
	if err != nil {
		o.warn(summary, "failed to resolve Microsoft Graph app roles: %v", err)
		return
	}
	grants, err := o.deps.Directory.AppRoleGrants(ctx, identity.PrincipalID)
	if err != nil {
		// Grant creation tolerates duplicates, keep going without the list.
		o.warn(summary, "failed to list existing Graph permission grants: %v", err)
	}
	granted := map[string]bool{}
	for _, grant := range grants {
		if strings.EqualFold(grant.ResourceObjectID, graph.ObjectID) {
			granted[strings.ToLower(grant.AppRoleID.String())] = true
		}
	}

	for _, permission := range azure.IngestGraphPermissions {
		roleID, ok := graph.IDs[permission]
		if !ok {
			o.warn(summary, "Microsoft Graph does not expose app role %s", permission)
			continue
		}
		if granted[strings.ToLower(roleID.String())] {
			message.Info("Graph permission already granted: %s", permission)
			summary.GraphPermissionsAlreadyGranted = append(summary.GraphPermissionsAlreadyGranted, permission)
			continue
		}
		message.Info("Granting Graph application permission %s to the managed identity", permission)
		created, err := o.deps.Directory.GrantAppRole(ctx, identity.PrincipalID, graph.ObjectID, roleID)
		if err != nil {
			if azure.IsPermissionDenied(err) {
				o.warn(summary, "not allowed to grant Graph permission %s, a directory administrator has to rerun this step: %v", permission, err)
			} else {
				o.warn(summary, "failed to grant Graph permission %s: %v", permission, err)
			}
			continue
		}
		if created {
			summary.GraphPermissions = append(summary.GraphPermissions, permission)
		} else {
			message.Info("Graph permission already granted: %s", permission)
			summary.GraphPermissionsAlreadyGranted = append(summary.GraphPermissionsAlreadyGranted, permission)
		}
	}
}

func (o *Orchestrator) ensureOwnership(ctx context.Context, summary *Summary, app *azure.Application, identity *azure.ManagedIdentity) {
	owners, err := o.deps.Directory.ApplicationOwners(ctx, app.ObjectID)
	if err != nil {
		o.warn(summary, "failed to list application owners: %v", err)
		return
	}
	for _, owner := range owners {
		if strings.EqualFold(owner, identity.PrincipalID) {
			message.Info("Managed identity is already an owner of the application")
			summary.OwnershipAlreadyPresent = true
			return
		}
	}
	message.Info("Adding the managed identity as owner of the application")
	added, err := o.deps.Directory.AddApplicationOwner(ctx, app.ObjectID, identity.PrincipalID)
	if err != nil {
		o.warn(summary, "failed to add application owner: %v", err)
		return
	}
	if added {
		summary.OwnershipAdded = true
	} else {
		message.Info("Managed identity is already an owner of the application")
		summary.OwnershipAlreadyPresent = true
	}
}

func (o *Orchestrator) warn(summary *Summary, format string, args ...any) {
	message.Warning(format, args...)
	summary.Warnings = append(summary.Warnings, fmt.Sprintf(format, args...))
}

// roleGUID normalizes a role definition reference to its bare id, ARM
// returns fully qualified ids in varying casings.
func roleGUID(roleDefinitionID string) string {
	parts := strings.Split(roleDefinitionID, "/")
	return strings.ToLower(parts[len(parts)-1])
}
