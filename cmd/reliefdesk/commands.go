package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/view"
)

// withApp loads configuration, opens the collection and runs fn.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(cmd.ErrOrStderr(), flags.logLevel)
	cfg, err := loadConfig(flags, logger)
	if err != nil {
		return err
	}
	logger = newLogger(cmd.ErrOrStderr(), cfg.Log.Level)

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if err := app.Open(ctx); err != nil {
		return err
	}
	return fn(ctx, app)
}

func listCmd(flags *globalFlags) *cobra.Command {
	var filter view.Filter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List damage reports",
		Example: `  reliefdesk list --category flood
  reliefdesk list --search "canal road"
  reliefdesk list --expr 'severe && ageDays < 3'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, app *App) error {
				s := app.Session()
				if err := s.SetFilter(filter); err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), s.Visible(), flags.jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Category, "category", view.AllCategories, "Damage type (storm, earthquake, flood, fire, other, all)")
	cmd.Flags().StringVarP(&filter.Search, "search", "s", "", "Match location, description or reporter")
	cmd.Flags().StringVar(&filter.Expr, "expr", "", "Filter expression over report fields")
	return cmd
}

func showCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one damage report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				if err := app.Session().OpenDetail(args[0]); err != nil {
					return err
				}
				defer app.Session().CloseModal()

				rec, err := app.Session().Record(ctx, args[0])
				if err != nil {
					return err
				}
				return printRecord(cmd.OutOrStdout(), rec, flags.jsonOutput)
			})
		},
	}
}

func statsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, app *App) error {
				s := app.Session()
				return printStats(cmd.OutOrStdout(), s.Stats(), s.CategoryCounts(), flags.jsonOutput)
			})
		},
	}
}

// draftFlags collects report fields from the command line.
type draftFlags struct {
	location    string
	size        string
	description string
	damageTime  string
	category    string
	reporter    string
	contact     string
	images      []string
}

func (d *draftFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&d.location, "location", "", "House location")
	fs.StringVar(&d.size, "size", "", "House size")
	fs.StringVar(&d.description, "description", "", "Damage description")
	fs.StringVar(&d.damageTime, "time", "", "Damage time (RFC 3339 or 2006-01-02T15:04)")
	fs.StringVar(&d.category, "category", "", "Damage type (storm, earthquake, flood, fire, other)")
	fs.StringVar(&d.reporter, "reporter", "", "Reporter name")
	fs.StringVar(&d.contact, "contact", "", "Reporter contact")
	fs.StringArrayVarP(&d.images, "image", "i", nil, "Image path, glob or s3:// URI (repeatable, order kept)")
}

func (d *draftFlags) draft(ctx context.Context, app *App) (report.Draft, error) {
	t, err := report.ParseTime(d.damageTime)
	if err != nil {
		return report.Draft{}, err
	}
	images, err := app.Attachments(ctx, d.images)
	if err != nil {
		return report.Draft{}, err
	}
	return report.Draft{
		Location:    strings.TrimSpace(d.location),
		Size:        strings.TrimSpace(d.size),
		Description: strings.TrimSpace(d.description),
		DamageTime:  t,
		Category:    report.Category(strings.ToLower(strings.TrimSpace(d.category))),
		ReportedBy:  strings.TrimSpace(d.reporter),
		Contact:     strings.TrimSpace(d.contact),
		Images:      images,
	}, nil
}

func createCmd(flags *globalFlags) *cobra.Command {
	var fields draftFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new damage report",
		Example: `  reliefdesk create --location "12 Canal Road" --size "2 storey" \
    --description "Roof collapsed" --time 2024-06-08T09:30 --category fire \
    --reporter "Ayesha" -i photos/front.jpg -i s3://relief-photos/site-12/roof.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				draft, err := fields.draft(ctx, app)
				if err != nil {
					return err
				}
				if err := app.Session().OpenCreate(); err != nil {
					return err
				}
				res, err := app.Session().Submit(ctx, draft)
				if err != nil {
					return err
				}
				if res.Err != nil {
					return res.Err
				}
				return printRecord(cmd.OutOrStdout(), res.Record, flags.jsonOutput)
			})
		},
	}

	fields.bind(cmd.Flags())
	return cmd
}

func updateCmd(flags *globalFlags) *cobra.Command {
	var (
		fields  draftFlags
		replace bool
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a damage report",
		Long: `Edit a damage report. Only the flags given are changed.

Images given with --image are added to the report's images, or with
--replace-images replace all of them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				draft, err := fields.draft(ctx, app)
				if err != nil {
					return err
				}
				draft.ReplaceMedia = replace
				if err := app.Session().OpenEdit(args[0]); err != nil {
					return err
				}
				res, err := app.Session().Submit(ctx, draft)
				if err != nil {
					return err
				}
				if res.Err != nil {
					return res.Err
				}
				return printRecord(cmd.OutOrStdout(), res.Record, flags.jsonOutput)
			})
		},
	}

	fields.bind(cmd.Flags())
	cmd.Flags().BoolVar(&replace, "replace-images", false, "Replace all images instead of adding")
	return cmd
}

func replaceImagesCmd(flags *globalFlags) *cobra.Command {
	var refs []string

	cmd := &cobra.Command{
		Use:   "replace-images <id>",
		Short: "Replace every image of a damage report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				images, err := app.Attachments(ctx, refs)
				if err != nil {
					return err
				}
				if err := app.Session().OpenEdit(args[0]); err != nil {
					return err
				}
				res := app.Session().ReplaceMedia(ctx, args[0], images)
				if res.Err != nil {
					return res.Err
				}
				return printRecord(cmd.OutOrStdout(), res.Record, flags.jsonOutput)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&refs, "image", "i", nil, "Image path, glob or s3:// URI (repeatable, order kept)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func deleteCmd(flags *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a damage report",
		Long:  "Delete a damage report. This cannot be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd, flags, func(ctx context.Context, app *App) error {
				s := app.Session()
				if err := s.RequestDelete(id); err != nil {
					return err
				}

				if !yes {
					rec, err := s.Record(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Delete report %s (%s, %s)? This cannot be undone. [y/N] ",
						id, rec.Location, rec.Category)
					answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
						s.CloseModal()
						fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
						return nil
					}
				}

				res, err := s.ConfirmDelete(ctx)
				if err != nil {
					return err
				}
				if res.Err != nil {
					return res.Err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
