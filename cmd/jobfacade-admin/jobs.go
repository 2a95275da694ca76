package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/jobfacade/internal/bootstrap"
	"github.com/target/jobfacade/internal/domain/model"
)

func submitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <kind>",
		Short: "Submit one or more jobs of a registered kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			input, _ := cmd.Flags().GetString("input")

			req := model.SubmitRequest{Kind: args[0], Count: count}
			if strings.TrimSpace(input) != "" {
				req.Input = json.RawMessage(input)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
				res, err := svcs.Jobs.SubmitJobs(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().Int("count", 1, "number of jobs to submit")
	cmd.Flags().String("input", "", "JSON input passed to every job")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the normalized status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")

			ctx, cancel := commandContext(cmd)
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
				job, err := svcs.Jobs.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				if err := svcs.Projector.Project(job, query); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}
	cmd.Flags().String("query", "", "JMESPath expression applied to the job result")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			order, _ := cmd.Flags().GetString("order")

			var newestFirst bool
			switch order {
			case "newest", "desc":
				newestFirst = true
			case "oldest", "asc":
			default:
				return fmt.Errorf("invalid --order %q (valid options: newest, oldest)", order)
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
				jobs, err := svcs.Jobs.ListJobs(ctx, limit, newestFirst)
				if err != nil {
					return err
				}
				if jobs == nil {
					jobs = []model.Job{}
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().Int("limit", 0, "maximum jobs to return (0 uses the configured default)")
	cmd.Flags().String("order", "newest", "newest or oldest first")
	return cmd
}

func cancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
				res, err := svcs.Jobs.CancelJob(ctx, args[0])
				if err != nil {
					return err
				}
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				if !res.OK {
					return errors.New(res.Message)
				}
				return nil
			})
		},
	}
}

func queuesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show a snapshot of backend queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
				snap, err := svcs.Reporter.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
}

func summaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count recent jobs by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sample, _ := cmd.Flags().GetInt("sample")

			ctx, cancel := commandContext(cmd)
			defer cancel()
			return a.withServices(ctx, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
				counts, err := svcs.Jobs.Summary(ctx, sample)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
	cmd.Flags().Int("sample", 0, "number of newest jobs to sample (0 uses the default sample size)")
	return cmd
}
