package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/client"
	"github.com/JakeFAU/docsort/internal/config"
	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/logging"
	"github.com/JakeFAU/docsort/internal/progress"
)

type watchFlags struct {
	baseURL       string
	reclassify    string
	regeneratePDF bool
}

func newWatchCmd() *cobra.Command {
	var flags watchFlags
	cmd := &cobra.Command{
		Use:   "watch <project_id>",
		Short: "Start processing (or reclassification) of a project and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), cfg, projectID, flags)
		},
	}
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "override client.base_url")
	cmd.Flags().StringVar(&flags.reclassify, "reclassify", "", "reclassify with this instruction instead of processing")
	cmd.Flags().BoolVar(&flags.regeneratePDF, "regenerate-pdf", false, "regenerate the merged PDF after reclassifying")
	return cmd
}

func parseProjectID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", raw)
	}
	return id, nil
}

func watchRequest(flags watchFlags) (client.Request, error) {
	if strings.TrimSpace(flags.reclassify) == "" {
		if flags.regeneratePDF {
			return client.Request{}, errors.New("--regenerate-pdf requires --reclassify")
		}
		return client.Request{Operation: docsort.OperationProcessProject}, nil
	}
	return client.Request{
		Operation: docsort.OperationReclassify,
		Params: docsort.Params{
			Prompt:        strings.TrimSpace(flags.reclassify),
			RegeneratePDF: flags.regeneratePDF,
		},
	}, nil
}

func runWatch(ctx context.Context, out io.Writer, cfg config.Config, projectID int64, flags watchFlags) error {
	req, err := watchRequest(flags)
	if err != nil {
		return err
	}
	baseURL := cfg.Client.BaseURL
	if flags.baseURL != "" {
		baseURL = flags.baseURL
	}
	backoff, err := client.NewBackoff(cfg.Client.Backoff, cfg.RetryDelay())
	if err != nil {
		return fmt.Errorf("client backoff: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, "watch")
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	attempt, err := client.NewAttempt(client.Options{
		BaseURL:    baseURL,
		ProjectID:  projectID,
		Request:    req,
		Supervisor: client.Supervisor{MaxRetries: cfg.Client.MaxRetries, Backoff: backoff},
		Observer:   printer(out, logger),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, attempt.Cancel)
	defer stop()

	res, err := attempt.Run(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(out, "completed: %s\n", res.Message)
		return nil
	case errors.Is(err, client.ErrCancelled), errors.Is(err, context.Canceled):
		fmt.Fprintln(out, "cancelled")
		return nil
	default:
		return fmt.Errorf("project %d: %w", projectID, err)
	}
}

func printer(out io.Writer, logger *zap.Logger) client.Observer {
	return client.ObserverFuncs{
		State: func(s client.State) {
			logger.Debug("client state", zap.String("state", s.String()))
		},
		Event: func(evt progress.Event) {
			if evt.Status == progress.StatusProcessing {
				fmt.Fprintf(out, "[%3d%%] %s\n", evt.Progress, evt.Message)
			}
		},
		Retry: func(r client.Retry) {
			fmt.Fprintln(out, r.String())
		},
	}
}
