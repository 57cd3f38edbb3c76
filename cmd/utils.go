package cmd

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v2"

	"github.com/sentinelops/onboard-wizard/internal/azure"
	"github.com/sentinelops/onboard-wizard/internal/message"
	"github.com/sentinelops/onboard-wizard/internal/provision"
)

const defaultsFileName = ".onboard-wizard"

type defaultsFile struct {
	CustomerPrefix string `yaml:"customerPrefix"`
	Subscription   string `yaml:"subscription"`
	Region         string `yaml:"region"`
}

func loadDefaults() (defaultsFile, error) {
	var defaults defaultsFile

	dirname, err := os.UserHomeDir()
	if err != nil {
		return defaults, fmt.Errorf("failed to get user home directory: %w", err)
	}

	data, err := os.ReadFile(path.Join(dirname, defaultsFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return defaults, fmt.Errorf("failed to read defaults file: %w", err)
		}
		return defaults, nil
	}
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return defaults, fmt.Errorf("failed to unmarshal defaults file: %w", err)
	}
	message.Debug("Using defaults from %s", path.Join(dirname, defaultsFileName))
	return defaults, nil
}

// resolveInputs merges flags, the defaults file and interactive prompts,
// in that order. Missing values are left empty when stdin is not a
// terminal so that validation reports them instead of a hanging prompt.
func resolveInputs() (provision.Inputs, error) {
	inputs := provision.Inputs{
		CustomerPrefix:    customerPrefix,
		SubscriptionID:    subscriptionID,
		Region:            region,
		SkipModuleInstall: skipModuleInstall,
	}

	defaults, err := loadDefaults()
	if err != nil {
		return inputs, err
	}
	if inputs.CustomerPrefix == "" {
		inputs.CustomerPrefix = defaults.CustomerPrefix
	}
	if inputs.SubscriptionID == "" {
		inputs.SubscriptionID = defaults.Subscription
	}
	if inputs.Region == "" {
		inputs.Region = defaults.Region
	}

	if !isInteractive() {
		return inputs, nil
	}

	if inputs.CustomerPrefix == "" {
		inputs.CustomerPrefix, err = message.Prompt("Enter the customer prefix (min 3 characters)", "")
		if err != nil {
			return inputs, err
		}
	}
	if inputs.SubscriptionID == "" {
		inputs.SubscriptionID, err = message.Prompt("Enter the id of the customer subscription", "")
		if err != nil {
			return inputs, err
		}
	}
	if inputs.Region == "" {
		inputs.Region, err = message.Select("Select the Azure region", azure.Locations)
		if err != nil {
			return inputs, err
		}
	}
	return inputs, nil
}

func isInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
