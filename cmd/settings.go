package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/scheduler"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change scheduler settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective scheduler settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src := scheduler.StoreSettings{Store: st, Fallback: scheduler.FromConfig(cfg.Scheduler)}
		s, err := src.Settings(ctx)
		if err != nil {
			return err
		}

		formatSettings(os.Stdout, s)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the master switch or per-type auto flags",
	Long:  "Example: outreach settings set --master=true --enable enrich,verify --disable send",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src := scheduler.StoreSettings{Store: st, Fallback: scheduler.FromConfig(cfg.Scheduler)}
		s, err := src.Settings(ctx)
		if err != nil {
			return err
		}

		enable, _ := cmd.Flags().GetStringSlice("enable")
		disable, _ := cmd.Flags().GetStringSlice("disable")
		var master *bool
		if cmd.Flags().Changed("master") {
			v, _ := cmd.Flags().GetBool("master")
			master = &v
		}

		s, err = applySettings(s, master, enable, disable)
		if err != nil {
			return err
		}

		if err := st.PutSettings(ctx, s); err != nil {
			return err
		}

		formatSettings(os.Stdout, s)
		return nil
	},
}

// applySettings returns s with the requested changes. Disable wins when a
// type is named in both lists.
func applySettings(s model.Settings, master *bool, enable, disable []string) (model.Settings, error) {
	auto := make(map[model.JobType]bool, len(s.AutoJobs))
	for t, on := range s.AutoJobs {
		auto[t] = on
	}
	set := func(names []string, on bool) error {
		for _, n := range names {
			t := model.JobType(strings.TrimSpace(n))
			if !t.Valid() {
				return eris.Errorf("unknown job type %q", n)
			}
			auto[t] = on
		}
		return nil
	}
	if err := set(enable, true); err != nil {
		return s, err
	}
	if err := set(disable, false); err != nil {
		return s, err
	}

	s.AutoJobs = auto
	if master != nil {
		s.MasterEnabled = *master
	}
	return s, nil
}

func formatSettings(out io.Writer, s model.Settings) {
	master := "off"
	if s.MasterEnabled {
		master = "on"
	}
	fmt.Fprintf(out, "Scheduler:  %s\n", master)
	for _, t := range model.JobTypes {
		state := "manual"
		if s.AutoJobs[t] {
			state = "auto"
		}
		fmt.Fprintf(out, "  %-10s %s\n", t, state)
	}
	if d := s.Discover; len(d.Keywords) > 0 || len(d.Platforms) > 0 || len(d.Locations) > 0 {
		fmt.Fprintf(out, "Discover:   platforms=%s keywords=%s locations=%s\n",
			strings.Join(d.Platforms, ","), strings.Join(d.Keywords, ","), strings.Join(d.Locations, ","))
	}
}

func init() {
	settingsSetCmd.Flags().Bool("master", false, "scheduler master switch")
	settingsSetCmd.Flags().StringSlice("enable", nil, "job types to run automatically")
	settingsSetCmd.Flags().StringSlice("disable", nil, "job types to stop running automatically")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
