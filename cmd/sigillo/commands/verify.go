package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigillo-iot/sigillo/internal/cloudclient"
	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/objectstore"
	"github.com/sigillo-iot/sigillo/internal/observability"
	"github.com/sigillo-iot/sigillo/internal/report"
	"github.com/sigillo-iot/sigillo/internal/verifier"
)

// ErrIntegrityCompromised is returned when verification finds anomalies;
// the command exits non-zero so scripts can gate on it.
var ErrIntegrityCompromised = errors.New("batch integrity compromised")

// ErrMissingVerifyInput is returned when a required flag is empty.
var ErrMissingVerifyInput = errors.New("--batch, --root, and --cid are required")

// NewVerifyCommand creates the verify subcommand.
func NewVerifyCommand() *cobra.Command {
	var (
		configPath string
		batchID    int64
		root       string
		cid        string
		format     string
		htmlOut    string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a delivered batch against its anchored Merkle root",
		Long: `Verify pulls the id→hash map from the cloud service and the anchored
paths document from the content-addressed gateway, then folds every leaf
against the expected root to localize tampering.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if batchID == 0 || root == "" || cid == "" {
				return ErrMissingVerifyInput
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runVerify(cmd, cfg, batchID, root, cid, format, htmlOut)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().Int64Var(&batchID, "batch", 0, "batch id to verify")
	cmd.Flags().StringVar(&root, "root", "", "expected merkle root (anchored)")
	cmd.Flags().StringVar(&cid, "cid", "", "content id of the anchored paths document")
	cmd.Flags().StringVarP(&format, "format", "f", report.FormatText, "output format: text|json|yaml|html")
	cmd.Flags().StringVarP(&htmlOut, "output", "o", "verifica.html", "output file for --format html")

	return cmd
}

func runVerify(cmd *cobra.Command, cfg *config.Config, batchID int64, root, cid, format, htmlOut string) error {
	log := observability.NewLogger(cfg.Level(), false, "verify")

	cloud := cloudclient.New(cfg.Verify.CloudBaseURL, cfg.Verify.APIKey, cfg.Verify.Timeout, log)
	gateway := objectstore.NewGateway(cfg.Verify.GatewayURL, cfg.Verify.Timeout)

	result, err := verifier.New(cloud, gateway, log).Run(cmd.Context(), batchID, root, cid)
	if err != nil {
		return err
	}

	if format == report.FormatHTML {
		err = report.RenderHTML(htmlOut, result)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", htmlOut)
	} else {
		err = report.Render(cmd.OutOrStdout(), result, format)
		if err != nil {
			return err
		}
	}

	if !result.GlobalOK {
		return fmt.Errorf("%w: batch %d, %d anomalies", ErrIntegrityCompromised, batchID, result.AnomalyCount)
	}

	return nil
}
