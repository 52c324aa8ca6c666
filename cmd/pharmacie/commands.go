package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pharmacie-hq/pharmacie-inventory/internal/app"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/config"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/logger"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/records"
)

// minExportInterval is the smallest interval accepted by export --every.
const minExportInterval = time.Second

type globalFlags struct {
	baseURL string
	output  string
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "pharmacie",
		Short:         "Pharmacy inventory client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.output != "json" && g.output != "yaml" {
				return fmt.Errorf("unsupported output format %q (expected json or yaml)", g.output)
			}
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.PersistentFlags().StringVar(&g.baseURL, "base-url", "", "Backend base URL (overrides API_BASE_URL)")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "json", "Output format: json or yaml")

	rootCmd.AddCommand(listCmd(g))
	rootCmd.AddCommand(getCmd(g))
	rootCmd.AddCommand(createCmd(g))
	rootCmd.AddCommand(replaceCmd(g))
	rootCmd.AddCommand(patchCmd(g))
	rootCmd.AddCommand(deleteCmd(g))
	rootCmd.AddCommand(categoriesCmd(g))
	rootCmd.AddCommand(exportCmd(g))
	rootCmd.AddCommand(snapshotCmd(g))
	return rootCmd
}

// withApp loads config, builds the runtime and tears it down after fn.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if g.baseURL != "" {
		cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(g.baseURL), "/")
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.ErrorObj("failed to initialize runtime", "error", err)
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.WarnObj("runtime close failed", "error", cerr)
		}
	}()

	return fn(ctx, a)
}

func listCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of medicaments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, _ := cmd.Flags().GetInt("page")
			size, _ := cmd.Flags().GetInt("size")
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if size <= 0 {
					size = a.Config().DefaultPageSize
				}
				res, err := a.Service().List(ctx, page, size)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, res)
			})
		},
	}
	cmd.Flags().Int("page", 0, "Zero-based page index")
	cmd.Flags().Int("size", 0, "Page size (defaults to DEFAULT_PAGE_SIZE)")
	return cmd
}

func getCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get REF",
		Short: "Show one medicament",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseReference(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				m, err := a.Service().Get(ctx, ref)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, m)
			})
		},
	}
}

func createCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create medicaments from a YAML or JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			recs, err := records.Load(file)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("records file %s holds no records", file)
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if len(recs) == 1 {
					m, err := a.Service().Create(ctx, recs[0])
					if err != nil {
						return err
					}
					return render(cmd.OutOrStdout(), g.output, m)
				}
				created, importErr := a.Service().Import(ctx, recs)
				if err := render(cmd.OutOrStdout(), g.output, created); err != nil {
					return err
				}
				return importErr
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "Record file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func replaceCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replace REF -f FILE",
		Short: "Replace a medicament with the record in FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseReference(args[0])
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			rec, err := records.LoadOne(file)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				m, err := a.Service().Replace(ctx, ref, rec)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, m)
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "Record file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func patchCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch REF [--set field=value ...] [-f FILE]",
		Short: "Update selected fields of a medicament",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseReference(args[0])
			if err != nil {
				return err
			}
			file, _ := cmd.Flags().GetString("file")
			sets, _ := cmd.Flags().GetStringArray("set")
			fields, err := patchFields(file, sets)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				m, err := a.Service().Patch(ctx, ref, fields)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, m)
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "Partial record file (YAML or JSON)")
	cmd.Flags().StringArray("set", nil, "Field assignment field=value; values are parsed as JSON when possible")
	return cmd
}

func deleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete REF",
		Short: "Delete a medicament",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseReference(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if err := a.Service().Remove(ctx, ref); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, map[string]any{"reference": ref, "deleted": true})
			})
		},
	}
}

func categoriesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List medicament categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				cats, err := a.Service().Categories(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, cats)
			})
		},
	}
}

func exportCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy every medicament into the local snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, _ := cmd.Flags().GetInt("size")
			every, _ := cmd.Flags().GetDuration("every")
			if every != 0 && every < minExportInterval {
				return fmt.Errorf("--every must be at least %s", minExportInterval)
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if every > 0 {
					return a.RunExports(ctx, every, size)
				}
				n, err := a.Export(ctx, size)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, map[string]any{"exported": n})
			})
		},
	}
	cmd.Flags().Int("size", 0, "Page size used while exporting")
	cmd.Flags().Duration("every", 0, "Repeat the export at this interval until interrupted")
	return cmd
}

func snapshotCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Summarise the local snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			withRecords, _ := cmd.Flags().GetBool("records")
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if withRecords {
					recs, err := a.SnapshotRecords()
					if err != nil {
						return err
					}
					return render(cmd.OutOrStdout(), g.output, recs)
				}
				info, err := a.Snapshot()
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, info)
			})
		},
	}
	cmd.Flags().Bool("records", false, "Print the stored records instead of the summary")
	return cmd
}

func parseReference(raw string) (int64, error) {
	ref, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reference %q", raw)
	}
	return ref, nil
}

// patchFields merges the optional file with --set assignments; assignments win.
func patchFields(file string, sets []string) (map[string]any, error) {
	fields := map[string]any{}
	if file != "" {
		rec, err := records.LoadOne(file)
		if err != nil {
			return nil, err
		}
		for k, v := range rec {
			fields[k] = v
		}
	}
	for _, set := range sets {
		key, val, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (expected field=value)", set)
		}
		fields[key] = parseValue(val)
	}
	if len(fields) == 0 {
		return nil, errors.New("nothing to patch: pass --set or -f")
	}
	return fields, nil
}

// parseValue reads val as a JSON literal, falling back to the raw string.
func parseValue(val string) any {
	dec := json.NewDecoder(strings.NewReader(val))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || dec.More() {
		return val
	}
	return out
}
