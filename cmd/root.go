package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelops/onboard-wizard/internal/azure"
	"github.com/sentinelops/onboard-wizard/internal/lighthouse"
	"github.com/sentinelops/onboard-wizard/internal/message"
	"github.com/sentinelops/onboard-wizard/internal/provision"
)

var silentMode bool
var verboseMode bool
var noEmoji bool
var noColor bool

var customerPrefix string
var subscriptionID string
var region string
var skipModuleInstall bool
var authorizationsFile string
var renderTemplateTo string
var summaryFile string

var rootCmd = &cobra.Command{
	Use:   "onboard-wizard",
	Short: "Onboard a customer subscription into SentinelOps managed security monitoring",
	Long: `It provisions the customer side of the SentinelOps managed security monitoring service:
a resource group, a managed identity carrying the monitoring roles, an ingest application
with a fresh bootstrap secret, and the Graph permissions the identity needs.
Every step is idempotent, rerunning against a half-provisioned subscription converges.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		message.SetSilentMode(silentMode)
		message.SetVerboseMode(verboseMode)
		message.SetEmojiMode(!noEmoji)
		message.SetColorMode(!noColor)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		inputs, err := resolveInputs()
		if err != nil {
			return err
		}
		if err := inputs.Validate(); err != nil {
			return err
		}

		definition, err := lighthouse.Load(authorizationsFile)
		if err != nil {
			return &provision.ConfigurationError{Param: "authorizations", Detail: err.Error()}
		}
		if err := definition.Validate(); err != nil {
			return &provision.ConfigurationError{Param: "authorizations", Detail: err.Error()}
		}
		if renderTemplateTo != "" {
			rendered, err := lighthouse.Render(definition)
			if err != nil {
				return err
			}
			if err := os.WriteFile(renderTemplateTo, rendered, 0644); err != nil {
				return fmt.Errorf("failed to write rendered template: %w", err)
			}
			message.Success("Lighthouse template rendered to %s", renderTemplateTo)
		}

		clients, err := azure.NewClients(inputs.SubscriptionID)
		if err != nil {
			return err
		}
		if upn, err := clients.CallerUPN(ctx); err != nil {
			message.Debug("Could not determine the calling user: %v", err)
		} else if upn != "" {
			message.Info("Authenticated as %s", upn)
		}

		orchestrator := provision.New(inputs, provision.Deps{
			Subscriptions:  clients.Subscriptions,
			ResourceGroups: clients.ResourceGroups,
			Providers:      clients.Providers,
			Identities:     clients.Identities,
			Roles:          clients.Roles,
			Directory:      clients.Directory,
		})
		summary, err := orchestrator.Run(ctx)
		if err != nil {
			return err
		}
		summary.Print()
		if summaryFile != "" {
			if err := summary.Save(summaryFile); err != nil {
				return err
			}
			message.Info("Summary written to %s", summaryFile)
		}
		message.DocumentationReference("Ask the customer to deploy the Lighthouse template to finish the delegation.",
			"https://learn.microsoft.com/azure/lighthouse/how-to/onboard-customer")
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	message.Error("onboarding failed: %v", err)

	var configurationErr *provision.ConfigurationError
	var timeoutErr *provision.TimeoutError
	switch {
	case errors.As(err, &configurationErr):
		os.Exit(2)
	case errors.As(err, &timeoutErr):
		os.Exit(3)
	default:
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&silentMode, "silent", false, "silent mode (hides everything except prompt/failure messages)")
	rootCmd.PersistentFlags().BoolVar(&verboseMode, "verbose", false, "verbose output (show everything, overrides silent mode)")
	rootCmd.PersistentFlags().BoolVar(&noEmoji, "no-emoji", false, "disable emojis")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colors and emojis")

	rootCmd.Flags().StringVar(&customerPrefix, "customer-prefix", "", "short customer name used as prefix for all provisioned resources (min 3 characters)")
	rootCmd.Flags().StringVar(&subscriptionID, "subscription", "", "id of the customer subscription to onboard")
	rootCmd.Flags().StringVar(&region, "region", "", "Azure region for the resource group and the managed identity")
	rootCmd.Flags().BoolVar(&skipModuleInstall, "skip-module-install", false, "skip resource provider registration")
	rootCmd.Flags().StringVar(&authorizationsFile, "authorizations", "", "YAML file overriding the default Lighthouse authorizations")
	rootCmd.Flags().StringVar(&renderTemplateTo, "render-template", "", "write the rendered Lighthouse template to this path")
	rootCmd.Flags().StringVar(&summaryFile, "summary-file", "", "write the change summary as JSON to this path")
}
