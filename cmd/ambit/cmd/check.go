package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ambit-sec/ambit/internal/domain/contract"
)

var checkCmd = &cobra.Command{
	Use:   "check <contract-file>",
	Short: "Validate an engagement contract file",
	Long: `Load a contract file and run the full validation pass against it.

Every violation is printed as "path: message". A valid contract prints
its engagement id, content hash, and a short summary of what it allows.

Example:
  ambit check ./contract.yaml`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	c, err := contract.Load(args[0])
	if err != nil {
		var verr *contract.ValidationError
		if errors.As(err, &verr) {
			for _, v := range verr.Violations {
				fmt.Printf("%s: %s\n", v.Path, v.Message)
			}
			return fmt.Errorf("contract invalid: %d violation(s)", len(verr.Violations))
		}
		return err
	}

	fmt.Printf("contract OK: %s\n", c.Identity.ID)
	fmt.Printf("  Hash:      %s\n", c.ContentHash)
	fmt.Printf("  Domains:   %d\n", len(c.Allowlist.Domains))
	fmt.Printf("  IP ranges: %d\n", len(c.Allowlist.IPRanges))
	fmt.Printf("  Ports:     %d\n", len(c.Allowlist.Ports))
	fmt.Printf("  Approval:  %s\n", c.ApprovalPolicy.Mode)
	if len(c.Credentials) > 0 {
		fmt.Printf("  Identities: %d\n", len(c.Credentials))
	}
	return nil
}
