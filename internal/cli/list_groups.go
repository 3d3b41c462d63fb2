package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/rostersync/internal/actuator"
)

const titleWidth = 30

// NewListGroupsCommand creates the list-groups command.
func NewListGroupsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-groups",
		Short: "List megagroups visible to the account",
		Long: `Authorize the platform session and print every megagroup the account
can see, with the ID and access hash needed for TELEGRAM_GROUP_ID and
TELEGRAM_GROUP_HASH. The configured target group is marked.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listGroups(rootOpts, cmd)
		},
	}
}

type groupRow struct {
	actuator.Group
	Target bool `json:"target"`
}

func listGroups(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sess := opts.session(cfg)
	if err := sess.Authorize(ctx, opts.prompter()); err != nil {
		return WrapExitError(ExitCommandError, "platform authorization failed", err)
	}

	all, err := sess.ListGroups(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list groups", err)
	}
	groups := actuator.Megagroups(all)

	if opts.Format == "json" {
		rows := make([]groupRow, 0, len(groups))
		for _, g := range groups {
			rows = append(rows, groupRow{Group: g, Target: g.ID == cfg.Telegram.GroupID})
		}
		return opts.formatter(cmd).Success(rows)
	}

	renderGroups(cmd.OutOrStdout(), groups, cfg.Telegram.GroupID)
	return nil
}

func truncateTitle(title string) string {
	r := []rune(title)
	if len(r) <= titleWidth {
		return title
	}
	return string(r[:titleWidth-3]) + "..."
}

// renderGroups writes the group table. The target row is marked with '*'
// and followed by the access hash hint.
func renderGroups(w io.Writer, groups []actuator.Group, targetID int64) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No megagroups found.")
		return
	}

	header := fmt.Sprintf("  %-*s %-15s %-22s %s", titleWidth, "Title", "ID", "Access Hash", "Members")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)+4))

	var target *actuator.Group
	for i, g := range groups {
		mark := " "
		if g.ID == targetID {
			mark = "*"
			target = &groups[i]
		}
		fmt.Fprintf(w, "%s %-*s %-15d %-22d %s\n",
			mark, titleWidth, truncateTitle(g.Title), g.ID, g.AccessHash, humanize.Comma(int64(g.Members)))
	}
	fmt.Fprintf(w, "\n%d megagroup(s)\n", len(groups))

	if target == nil {
		fmt.Fprintf(w, "\nWarning: target group %d is not in this list.\n", targetID)
		return
	}
	fmt.Fprintf(w, "\nTarget group: %s\n", target.Title)
	fmt.Fprintf(w, "Set TELEGRAM_GROUP_HASH=%d\n", target.AccessHash)
}
