package azure

import (
	"fmt"
	"slices"
	"strings"
)

// GraphAppID is the application id of the Microsoft Graph service
// principal, identical in every tenant.
const GraphAppID = "00000003-0000-0000-c000-000000000000"

// Graph application permissions granted to the ingest identity.
const (
	PermissionApplicationReadWriteOwnedBy = "Application.ReadWrite.OwnedBy"
	PermissionDirectoryReadAll            = "Directory.Read.All"
)

var IngestGraphPermissions = []string{
	PermissionApplicationReadWriteOwnedBy,
	PermissionDirectoryReadAll,
}

// Azure built-in role definition ids, identical in every tenant.
const (
	RoleContributor                   = "b24988ac-6180-42a0-ab88-20f7382dd24c"
	RoleReader                        = "acdd72a7-3385-48ef-bd42-f606fba81ae7"
	RoleUserAccessAdministrator       = "18d7d88d-d35e-4fb5-a5c3-7773c20a72d9"
	RoleMonitoringContributor         = "749f88d5-cbae-40b8-bcfc-e573ddc772fa"
	RoleMonitoringReader              = "43d0d8ad-25c7-4714-9337-8ba259a9fe05"
	RoleLogAnalyticsContributor       = "92aaf0da-9dab-42b6-94a3-d43ce8d16293"
	RoleLogAnalyticsReader            = "73c42c96-874c-492b-b04d-ab87d138a893"
	RoleSentinelContributor           = "ab8e14d6-4a74-4a29-9ba8-549422addade"
	RoleSentinelResponder             = "3e150937-b8fe-4cfb-8069-0eaf05ecd056"
	RoleSentinelReader                = "8d289c81-5878-46d4-8554-54e1e3d8b5cb"
	RoleStorageBlobDataContributor    = "ba92f5b4-2d11-453d-a403-e96b0029c9fe"
	RoleManagedServicesRegistrationRm = "91c1777a-f3dc-4fae-b103-61d183457e46"
)

var builtInRoleNames = map[string]string{
	RoleContributor:                   "Contributor",
	RoleReader:                        "Reader",
	RoleUserAccessAdministrator:       "User Access Administrator",
	RoleMonitoringContributor:         "Monitoring Contributor",
	RoleMonitoringReader:              "Monitoring Reader",
	RoleLogAnalyticsContributor:       "Log Analytics Contributor",
	RoleLogAnalyticsReader:            "Log Analytics Reader",
	RoleSentinelContributor:           "Microsoft Sentinel Contributor",
	RoleSentinelResponder:             "Microsoft Sentinel Responder",
	RoleSentinelReader:                "Microsoft Sentinel Reader",
	RoleStorageBlobDataContributor:    "Storage Blob Data Contributor",
	RoleManagedServicesRegistrationRm: "Managed Services Registration assignment Delete Role",
}

// IngestRoles are the subscription-scope roles assigned to the customer's
// ingest identity, in assignment order.
var IngestRoles = []string{
	RoleContributor,
	RoleMonitoringContributor,
	RoleStorageBlobDataContributor,
	RoleSentinelContributor,
}

// RequiredProviders are the resource providers the monitoring deployment
// depends on. Registration is idempotent and safe to repeat.
var RequiredProviders = []string{
	"Microsoft.ManagedServices",
	"Microsoft.ManagedIdentity",
	"Microsoft.OperationalInsights",
	"Microsoft.SecurityInsights",
}

func IsBuiltInRole(roleID string) bool {
	_, ok := builtInRoleNames[strings.ToLower(roleID)]
	return ok
}

// RoleName resolves a built-in role id to its display name, falling back
// to the id itself for roles outside the catalog.
func RoleName(roleID string) string {
	if name, ok := builtInRoleNames[strings.ToLower(roleID)]; ok {
		return name
	}
	return roleID
}

// RoleDefinitionID builds the fully qualified ARM id of a built-in role
// at subscription scope.
func RoleDefinitionID(subscriptionID, roleID string) string {
	return fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s", subscriptionID, roleID)
}

var Locations = []string{
	"australiacentral",
	"australiaeast",
	"australiasoutheast",
	"brazilsouth",
	"canadacentral",
	"canadaeast",
	"centralindia",
	"centralus",
	"eastasia",
	"eastus",
	"eastus2",
	"francecentral",
	"germanywestcentral",
	"japaneast",
	"japanwest",
	"koreacentral",
	"koreasouth",
	"northcentralus",
	"northeurope",
	"norwayeast",
	"polandcentral",
	"qatarcentral",
	"southafricanorth",
	"southcentralus",
	"southeastasia",
	"southindia",
	"swedencentral",
	"switzerlandnorth",
	"uaenorth",
	"uksouth",
	"ukwest",
	"westcentralus",
	"westeurope",
	"westindia",
	"westus",
	"westus2",
	"westus3",
}

func IsSupportedRegion(region string) bool {
	return slices.Contains(Locations, strings.ToLower(region))
}
