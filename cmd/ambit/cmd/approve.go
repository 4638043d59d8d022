package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ambit-sec/ambit/internal/adapter/outbound/approval"
	"github.com/ambit-sec/ambit/internal/config"
	"github.com/ambit-sec/ambit/internal/port/outbound"
)

var approveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Answer a pending approval request",
	Long: `Answer an approval request that a running ambit server is waiting on.

The server writes pending requests to <approval_dir>/pending/ and blocks
the gated tool call until an answer appears. This command writes that
answer. Run with --list to see what is waiting.

Examples:
  # See pending requests
  ambit approve --list

  # Approve a request
  ambit approve req-8f2c91 --by alice

  # Deny it instead
  ambit approve req-8f2c91 --deny --by alice --note "target not in SOW"`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runApprove,
}

var (
	approveDeny bool
	approveList bool
	approveBy   string
	approveNote string
)

func init() {
	approveCmd.Flags().BoolVar(&approveDeny, "deny", false, "deny the request instead of approving it")
	approveCmd.Flags().BoolVar(&approveList, "list", false, "list pending requests and exit")
	approveCmd.Flags().StringVar(&approveBy, "by", "", "name recorded as the decision maker")
	approveCmd.Flags().StringVar(&approveNote, "note", "", "free-form note stored with the decision")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	// Raw load: answering an approval needs only the spool directory, not
	// a full serve configuration.
	cfg, err := config.LoadRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if approveList {
		pending, err := approval.ListPending(cfg.ApprovalDir)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("no pending approval requests")
			return nil
		}
		for _, req := range pending {
			fmt.Printf("%s  %s  requested %s  expires %s\n",
				req.ID, req.Action,
				req.RequestedAt.Format("15:04:05"),
				req.ExpiresAt.Format("15:04:05"))
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("request id required (or --list)")
	}

	decision := outbound.ApprovalAllow
	if approveDeny {
		decision = outbound.ApprovalDeny
	}
	if err := approval.WriteAnswer(cfg.ApprovalDir, args[0], approval.Answer{
		Decision:  decision,
		DecidedBy: approveBy,
		Note:      approveNote,
	}); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", args[0], decision)
	return nil
}
