package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gabrielmiguelok/questkit/internal/fragments"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>",
		Short: "Print the form type a page path resolves to",
		Example: `  questd resolve /purpose-quest-lite
  questd resolve https://example.com/purpose-journey?token=abc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := quest.Resolve(args[0])
			if err != nil {
				return err
			}
			t, err := quest.DefaultStore().Get(ft)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ft, t.Fragment)
			return err
		},
	}
}

// fieldDoc is the YAML shape of one template field.
type fieldDoc struct {
	ID     string   `yaml:"id"`
	Part   int      `yaml:"part"`
	Path   []string `yaml:"path,flow"`
	Prompt string   `yaml:"prompt"`
}

type templateDoc struct {
	Type     string     `yaml:"type"`
	Fragment string     `yaml:"fragment"`
	Parts    int        `yaml:"parts"`
	Fields   []fieldDoc `yaml:"fields"`
}

func newTemplateCmd() *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "template <type>",
		Short: "Describe a form template",
		Long: `Prints the field table of a form type (simple, lite, elaborate) as YAML,
or with --html the section fragment the backend serves for it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := quest.ParseFormType(args[0])
			if err != nil {
				return err
			}
			if !ft.IsSet() {
				return fmt.Errorf("%w: %q", quest.ErrUnknownFormType, args[0])
			}
			t, err := quest.DefaultStore().Get(ft)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asHTML {
				html, err := fragments.New().Section(t)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, html)
				return err
			}

			doc := templateDoc{Type: ft.String(), Fragment: t.Fragment, Parts: t.Parts()}
			for _, f := range t.Fields() {
				doc.Fields = append(doc.Fields, fieldDoc{ID: f.ID, Part: f.Part, Path: f.Path, Prompt: f.Prompt})
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(doc); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "print the section fragment instead")
	return cmd
}
