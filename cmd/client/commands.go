package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	handler "github.com/atinyakov/declutter/internal/client/handler/http"
	"github.com/atinyakov/declutter/internal/engine"
	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/remote"
	"github.com/atinyakov/declutter/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and its local API",
		Long: `Runs the offline-first engine: probes connectivity in the background,
drains pending actions whenever the remote service becomes reachable and
serves the local HTTP API on --listen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.withEngine(ctx, func(e *engine.Engine) error {
				return a.serve(ctx, e)
			})
		},
	}
	cmd.Flags().StringVar(&a.opts.Listen, "listen", a.opts.Listen, "address of the local API")
	return cmd
}

func (a *app) serve(ctx context.Context, e *engine.Engine) error {
	log := a.log.Log
	router := handler.NewRouter(
		&handler.StatusHandler{Status: e.Status, Log: log.Named("ws")},
		&handler.ActionHandler{Queue: e.Actions, Syncer: e.Coordinator},
		&handler.RecordHandler{Records: e.Records},
		log.Named("api"),
	)
	srv := &http.Server{
		Addr:              a.opts.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Close, called by withEngine, stops the prober before the store closes
	e.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("local api listening", zap.String("addr", a.opts.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve local api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue TYPE COLLECTION JSON",
		Short: "Queue a raw mutation for the remote service",
		Long: `Queues a CREATE, UPDATE or DELETE action carrying JSON as its payload.
The action is delivered right away when the remote service is reachable and
kept for a later drain otherwise.`,
		Example: `  declutter enqueue CREATE users '{"id":"u1","name":"Ann"}'`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := models.DecodeRecord([]byte(args[2]))
			if err != nil {
				return err
			}
			typ := models.ActionType(strings.ToUpper(args[0]))
			c := models.Collection(args[1])
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				action, err := e.Actions.Enqueue(cmd.Context(), typ, c, payload)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), action)
			})
		},
	}
}

func (a *app) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued actions in delivery order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				actions, err := e.Actions.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				if actions == nil {
					actions = []models.PendingAction{}
				}
				return printJSON(cmd.OutOrStdout(), actions)
			})
		},
	}
}

func (a *app) discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard ID",
		Short: "Drop a queued action without sending it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				if err := e.Actions.Discard(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", args[0])
				return nil
			})
		},
	}
}

// syncSummary is the printed result of one drain.
type syncSummary struct {
	Skipped   string          `json:"skipped,omitempty"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Failures  []failureDetail `json:"failures,omitempty"`
}

type failureDetail struct {
	ID         string `json:"id"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error"`
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain pending actions once",
		Long: `Sends every pending action to the remote service in the order it was
queued. Failed actions stay queued for the next drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				report, err := e.Coordinator.Drain(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summarize(report))
			})
		},
	}
}

func summarize(report syncer.Report) syncSummary {
	s := syncSummary{
		Skipped:   string(report.Skipped),
		Succeeded: report.Succeeded(),
		Failed:    report.Failed(),
	}
	for _, o := range report.Outcomes {
		if o.Err == nil {
			continue
		}
		d := failureDetail{ID: o.Action.ID, Reason: o.Reason(), Error: o.Err.Error()}
		var rejected *remote.RejectedError
		if errors.As(o.Err, &rejected) {
			d.StatusCode = rejected.StatusCode
		}
		s.Failures = append(s.Failures, d)
	}
	return s
}

func (a *app) statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				st := e.Status.Current()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), st)
				}
				conn := "offline"
				if st.IsOnline {
					conn = "online"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "connectivity: %s\npending:      %d\nlast sync:    %s\n",
					conn, st.PendingCount, formatTime(st.LastSyncAt))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func (a *app) recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Read and write local records",
		Long: `Reads and writes records of the users, digitalData and streaks
collections. Writes go to the local store first and are queued for the
remote service.`,
	}

	get := &cobra.Command{
		Use:   "get COLLECTION KEY",
		Short: "Print one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				rec, ok, err := e.Records.Get(cmd.Context(), models.Collection(args[0]), args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s/%s not found", args[0], args[1])
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list COLLECTION",
		Short: "Print every record of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				recs, err := e.Records.List(cmd.Context(), models.Collection(args[0]))
				if err != nil {
					return err
				}
				if recs == nil {
					recs = []models.Record{}
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}

	put := &cobra.Command{
		Use:   "put COLLECTION JSON",
		Short: "Create a record, or update it when its key already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := models.DecodeRecord([]byte(args[1]))
			if err != nil {
				return err
			}
			c := models.Collection(args[0])
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				saved, err := putRecord(cmd.Context(), e, c, rec)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), saved)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete COLLECTION KEY",
		Short: "Delete a record and queue the deletion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				if err := e.Records.Delete(cmd.Context(), models.Collection(args[0]), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(get, list, put, del)
	return cmd
}

func putRecord(ctx context.Context, e *engine.Engine, c models.Collection, rec models.Record) (models.Record, error) {
	key, ok := models.KeyOf(c, rec)
	if !ok {
		return e.Records.Create(ctx, c, rec)
	}
	_, exists, err := e.Records.Get(ctx, c, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return e.Records.Update(ctx, c, key, rec)
	}
	return e.Records.Create(ctx, c, rec)
}
