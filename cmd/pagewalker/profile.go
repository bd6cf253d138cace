package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/pagewalker/internal/jobs"
	"github.com/PentesterFlow/pagewalker/pkg/crawler"
)

var draft = jobs.DefaultDraft()

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage site profiles",
	}

	addCmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileAdd,
	}
	f := addCmd.Flags()
	f.StringVar(&draft.Domain, "domain", "", "Domain the profile crawls (example.com)")
	f.StringVar(&draft.FieldName, "field", draft.FieldName, "Name of the extracted field")
	f.StringVar((*string)(&draft.SelectorType), "selector-type", string(draft.SelectorType), "Content selector type (css, xpath)")
	f.StringVarP(&draft.Selector, "selector", "s", "", "Content selector")
	f.StringVar((*string)(&draft.ExtractMode), "mode", string(draft.ExtractMode), "Extract mode (text, html, attribute)")
	f.StringVar(&draft.ContentAttributeName, "attr", draft.ContentAttributeName, "Attribute for attribute mode")
	f.BoolVar(&draft.Required, "required", draft.Required, "Fail the job when the content selector does not match")
	f.StringVar((*string)(&draft.NextSelectorType), "next-type", string(draft.NextSelectorType), "Next-link selector type (css, xpath)")
	f.StringVarP(&draft.NextSelector, "next", "n", "", "Next-link selector")
	f.StringVar(&draft.NextAttributeName, "next-attr", draft.NextAttributeName, "Attribute holding the next URL")
	f.IntVarP(&draft.MaxPages, "max-pages", "m", 0, "Maximum pages (default from settings)")

	cmd.AddCommand(addCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE:  runProfileList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [id|name]",
		Short: "Print a profile as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id|name]",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileDelete,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Create profiles from a YAML file holding one draft or a list of drafts",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileImport,
	})

	return cmd
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		d := draft
		d.Name = args[0]
		p, err := createProfile(repo, d)
		if err != nil {
			return err
		}
		fmt.Printf("Created profile %s (%s)\n", p.Name, p.ID)
		return nil
	})
}

// createProfile fills the page limit from settings and stores the profile.
func createProfile(repo *jobs.Repository, d jobs.Draft) (*jobs.Profile, error) {
	if _, err := repo.FindProfile(d.Name); err == nil {
		return nil, fmt.Errorf("profile %q already exists", d.Name)
	}

	if d.MaxPages < 1 {
		settings, err := repo.Settings()
		if err != nil {
			return nil, err
		}
		d.MaxPages = settings.MaxPagesDefault
	}

	p, err := jobs.NewProfile(d, time.Now())
	if err != nil {
		return nil, err
	}
	if err := repo.SaveProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		profiles, err := repo.Profiles()
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("No profiles. Create one with: pagewalker profile add")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDOMAIN\tSELECTOR\tNEXT\tMAX PAGES\tID")
		for _, p := range profiles {
			rule, _ := p.PrimaryRule()
			fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s %s\t%d\t%s\n",
				p.Name, p.Domain,
				rule.SelectorType, rule.Selector,
				p.PaginationRule.SelectorType, p.PaginationRule.Selector,
				p.StopRules.MaxPages, p.ID)
		}
		return tw.Flush()
	})
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		p, err := repo.FindProfile(args[0])
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(p)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	})
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		p, err := repo.FindProfile(args[0])
		if err != nil {
			return err
		}
		if err := repo.DeleteProfile(p.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted profile %s\n", p.Name)
		return nil
	})
}

func runProfileImport(cmd *cobra.Command, args []string) error {
	drafts, err := readDrafts(args[0])
	if err != nil {
		return err
	}

	return withRepository(func(repo *jobs.Repository, _ *crawler.Config) error {
		for _, d := range drafts {
			p, err := createProfile(repo, d)
			if err != nil {
				return fmt.Errorf("profile %q: %w", d.Name, err)
			}
			fmt.Printf("Imported profile %s (%s)\n", p.Name, p.ID)
		}
		return nil
	})
}

// readDrafts decodes a YAML list of drafts, or a single draft. Unset fields
// take their defaults; an unset page limit comes from settings.
func readDrafts(path string) ([]jobs.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if strings.HasPrefix(string(trimmed), "-") || strings.HasPrefix(string(trimmed), "[") {
		var raw []yaml.Node
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse profile file: %w", err)
		}
		drafts := make([]jobs.Draft, 0, len(raw))
		for i := range raw {
			d := importDraft()
			if err := raw[i].Decode(&d); err != nil {
				return nil, fmt.Errorf("failed to parse profile %d: %w", i+1, err)
			}
			drafts = append(drafts, d)
		}
		return drafts, nil
	}

	d := importDraft()
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}
	return []jobs.Draft{d}, nil
}

func importDraft() jobs.Draft {
	d := jobs.DefaultDraft()
	d.MaxPages = 0
	return d
}
