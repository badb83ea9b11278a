package cmd

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query"
)

func newLoadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE...",
		Short: "Load JSON lines fixtures into the store.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				total := 0
				for _, path := range args {
					n, err := a.loadFixtures(cmd.Context(), path)
					if err != nil {
						return err
					}
					total += n
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entities\n", total)
				return nil
			})
		},
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run QUERY_FILE",
		Short: "Run a select query and print its results as a table.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) (outErr error) {
				ctx := cmd.Context()
				qd, params, err := a.compile(args[0])
				if err != nil {
					return err
				}
				if !qd.FilterComplete || !qd.OrderComplete {
					a.logger.Warn("the query has filters or orderings which the datastore can't apply, results are a superset")
				}

				result, err := a.executor.Execute(ctx, nil, qd, params)
				if err != nil {
					return errors.Wrap(err, "couldn't execute query")
				}
				defer func() {
					if err := result.Close(); err != nil && outErr == nil {
						outErr = errors.Wrap(err, "couldn't close result")
					}
				}()

				header := resultHeader(qd)
				table := newTableFormatter(cmd.OutOrStdout(), header)
				if qd.Count {
					size, err := result.Size()
					if err != nil {
						return errors.Wrap(err, "couldn't count results")
					}
					table.Write([]interface{}{size})
					table.Close()
					return nil
				}

				it := result.Iterator()
				for {
					value, err := it.Next()
					if errors.Cause(err) == datastore.ErrEndOfIterator {
						break
					} else if err != nil {
						return errors.Wrapf(err, "couldn't get result with index %d", it.Index())
					}
					table.Write(resultRow(header, value))
				}
				table.Close()

				end, err := result.EndCursor()
				if err != nil {
					return errors.Wrap(err, "couldn't get end cursor")
				}
				if end != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "end cursor: %s\n", end)
				}
				return nil
			})
		},
	}
}

func newExplainCmd(opts *rootOptions) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "explain QUERY_FILE",
		Short: "Print the native queries and the execution plan of a query.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				qd, _, err := a.compile(args[0])
				if err != nil {
					return err
				}
				plan := query.Select(qd)

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "query: %s\n", qd.Query)
				if qd.JoinQuery != nil {
					fmt.Fprintf(w, "join query: %s\n", qd.JoinQuery)
					fmt.Fprintf(w, "join on: %s\n", qd.JoinSortProperty)
				}
				fmt.Fprintf(w, "plan: %s\n", plan.Strategy)
				if plan.BulkDelete {
					fmt.Fprintln(w, "bulk delete: true")
				}
				fmt.Fprintf(w, "result: %s\n", qd.ResultType)
				fmt.Fprintf(w, "filter complete: %t\n", qd.FilterComplete)
				fmt.Fprintf(w, "order complete: %t\n", qd.OrderComplete)

				if dump {
					spewConfig := spew.ConfigState{
						Indent:                  "  ",
						DisablePointerAddresses: true,
						DisableCapacities:       true,
						SortKeys:                true,
						DisableMethods:          true,
					}
					spewConfig.Fdump(w, qd.Query.Filters(), qd.Query.Sorts(), qd.BatchKeys)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the filters, sorts and batch keys of the native query.")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete QUERY_FILE",
		Short: "Run a bulk delete query in a transaction.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				ctx := cmd.Context()
				qd, _, err := a.compile(args[0])
				if err != nil {
					return err
				}

				txn, err := a.service.NewTransaction(ctx)
				if err != nil {
					return errors.Wrap(err, "couldn't start transaction")
				}
				count, err := a.executor.Delete(ctx, txn, qd)
				if err != nil {
					if rollbackErr := txn.Rollback(ctx); rollbackErr != nil {
						a.logger.WithError(rollbackErr).Error("couldn't roll back transaction")
					}
					return errors.Wrap(err, "couldn't delete")
				}
				if err := txn.Commit(ctx); err != nil {
					return errors.Wrap(err, "couldn't commit transaction")
				}

				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entities\n", count)
				return nil
			})
		},
	}
}
