package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/udpdiscovery/internal/config"
	"github.com/muurk/udpdiscovery/internal/ui"
)

// Profile command flags
var (
	profileSaveOpts   scanOptions
	profileSaveDesc   string
	profileSetDefault bool
	profileYes        bool
)

func init() {
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSaveCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved scan profiles",
	Long: `Manage named scan profiles in the config file.

Built-in profiles are always available and can be shadowed, but not
deleted, by a saved profile with the same name.`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved and built-in profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderProfileTable(reg))
		return nil
	},
}

// renderProfileTable renders every profile with its port and hello
func renderProfileTable(reg *config.Registry) string {
	defaultName := ""
	if reg.Preferences != nil {
		defaultName = reg.Preferences.DefaultProfile
	}

	rows := make([][]string, 0)
	for _, name := range reg.ProfileNames() {
		p := reg.GetProfile(name)

		label := name
		if name == defaultName {
			label += " *"
		}
		kind := "saved"
		if reg.IsBuiltin(name) {
			kind = "built-in"
		}
		hello := p.Hello
		if hello == "" {
			hello = strconv.Quote(p.HelloText)
		}
		rows = append(rows, []string{label, strconv.Itoa(p.Port), hello, kind, p.Description})
	}

	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("Name", "Port", "Hello", "Kind", "Description").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return ui.HeaderParamKeyStyle.Bold(true)
			case col == 0:
				return ui.DeviceAddressStyle
			default:
				return ui.HeaderParamValueStyle
			}
		}).
		Render()
}

var profileShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print a profile as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		p := reg.GetProfile(args[0])
		if p == nil {
			return fmt.Errorf("profile %q not found", args[0])
		}

		data, err := yaml.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", args[0], data)
		return nil
	},
}

var profileSaveCmd = &cobra.Command{
	Use:   "save NAME",
	Short: "Save scan flags as a named profile",
	Long: `Save the given scan flags as a named profile.

With --profile the new profile starts from an existing one, so only the
differences need to be given. Saving over an existing name replaces it.`,
	Example: `  udpdiscover profile save lab --port 12000 --hello "02 35 38 2e 30 03 10" --timeout 2s
  udpdiscover profile save brd-container --profile brd --any-interface --default`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		name := args[0]
		setup, err := profileSaveOpts.resolveScan(reg, cmd.Flags().Changed)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("destination") {
			return fmt.Errorf("--destination cannot be saved in a profile")
		}

		p := setup.profile
		if cmd.Flags().Changed("description") {
			p.Description = profileSaveDesc
		}
		if err := reg.SetProfile(name, &p); err != nil {
			return err
		}
		if profileSetDefault {
			reg.Preferences.DefaultProfile = name
		}
		if err := saveRegistry(reg); err != nil {
			return err
		}

		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Profile saved", []ui.Param{
			{Key: "Name", Value: name},
			{Key: "Port", Value: strconv.Itoa(p.Port)},
			{Key: "Default", Value: strconv.FormatBool(reg.Preferences.DefaultProfile == name)},
		})
		return nil
	},
}

func init() {
	profileSaveOpts.addFlags(profileSaveCmd)
	profileSaveCmd.Flags().StringVar(&profileSaveDesc, "description", "", "Free text shown by 'profile list'")
	profileSaveCmd.Flags().BoolVar(&profileSetDefault, "default", false, "Use this profile when scan gets neither --port nor --profile")
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}

		name := args[0]
		if !profileYes {
			warnings := []string{"The profile is removed from the config file"}
			if reg.Preferences != nil && reg.Preferences.DefaultProfile == name {
				warnings = append(warnings, "It is the default profile; scans will need --port or --profile")
			}
			if !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete profile %q?", name), warnings) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		if err := reg.DeleteProfile(name); err != nil {
			return err
		}
		if reg.Preferences != nil && reg.Preferences.DefaultProfile == name {
			reg.Preferences.DefaultProfile = ""
		}
		if err := saveRegistry(reg); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Profile %q deleted.\n", name)
		return nil
	},
}

func init() {
	profileDeleteCmd.Flags().BoolVarP(&profileYes, "yes", "y", false, "Do not ask for confirmation")
}
