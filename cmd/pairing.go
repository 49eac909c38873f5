package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syneagent/syne/internal/config"
	"github.com/syneagent/syne/internal/store"
)

// pairingCmd is an offline admin tool: the in-chat pairing code identity.Resolver
// issues lives only in the running serve process's memory (see
// internal/identity.Resolver.RequestPairing), so a separate CLI invocation can't
// redeem it. Instead this approves directly against the store by platform
// sender ID, which is what an owner has on hand from the pending-access
// message the channel adapter already showed them.
func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage pending pairing requests",
	}
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingStatusCmd())
	return cmd
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <platform> <platform-id>",
		Short: "Promote a pending sender to paired (family) access",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, platformID := args[0], args[1]

			st, db, err := openConfiguredStore()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			ctx := context.Background()
			u, err := st.GetUserByPlatformID(ctx, platform, platformID)
			if err != nil {
				return fmt.Errorf("lookup user: %w", err)
			}
			if u == nil {
				return fmt.Errorf("no user found for %s/%s — they must message the bot at least once first", platform, platformID)
			}

			if err := st.UpdateUserAccessLevel(ctx, u.ID, store.AccessFamily); err != nil {
				return fmt.Errorf("approve user: %w", err)
			}

			fmt.Printf("Approved %s (%s/%s) for access.\n", u.DisplayName, platform, platformID)
			return nil
		},
	}
}

func pairingStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <platform> <platform-id>",
		Short: "Show a sender's current access level",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, platformID := args[0], args[1]

			st, db, err := openConfiguredStore()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			u, err := st.GetUserByPlatformID(context.Background(), platform, platformID)
			if err != nil {
				return fmt.Errorf("lookup user: %w", err)
			}
			if u == nil {
				fmt.Printf("%s/%s: not seen yet\n", platform, platformID)
				return nil
			}

			fmt.Printf("%s/%s: %s (access: %s)\n", platform, platformID, u.DisplayName, u.AccessLevel)
			return nil
		},
	}
}

func openConfiguredStore() (store.Store, *sql.DB, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return openStore(cfg)
}
