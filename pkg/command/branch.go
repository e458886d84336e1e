// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/spf13/cobra"
)

func newBranchCmd() *cobra.Command {
	var all bool
	var remoteName string
	var deleteName, forceDeleteName string
	var showCurrent bool
	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "List, create or delete branches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch {
			case showCurrent:
				current, err := repo.ShowCurrent()
				if err != nil {
					return err
				}
				fmt.Fprintln(w, current)
				return nil
			case deleteName != "" || forceDeleteName != "":
				name, force := deleteName, false
				if forceDeleteName != "" {
					name, force = forceDeleteName, true
				}
				return repo.WithLock(func() error {
					return repo.DeleteBranch(name, force)
				})
			case len(args) == 1:
				return repo.WithLock(func() error {
					return repo.CreateBranch(args[0])
				})
			}

			branches, err := repo.ListBranches()
			if err != nil {
				return err
			}
			current, err := repo.ShowCurrent()
			if err != nil {
				return err
			}
			for _, b := range branches {
				marker := "  "
				if b.Name == current {
					marker = "* "
				}
				fmt.Fprintf(w, "%s%s\n", marker, b.Name)
			}
			if all || remoteName != "" {
				name := remoteName
				if name == "" {
					name = "origin"
				}
				client, err := remoteClient(repo, name)
				if err != nil {
					return err
				}
				remoteBranches, err := client.ListBranches(cmd.Context())
				if err != nil {
					return err
				}
				for _, b := range remoteBranches {
					fmt.Fprintf(w, "  remotes/%s/%s\n", name, b.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include remote branches")
	cmd.Flags().StringVarP(&remoteName, "remote", "r", "", "list branches of a named remote")
	cmd.Flags().StringVar(&deleteName, "delete", "", "delete a branch")
	cmd.Flags().StringVar(&forceDeleteName, "force-delete", "", "delete a branch even if checked out")
	cmd.Flags().BoolVar(&showCurrent, "show-current", false, "print the checked-out branch name")
	return cmd
}

func newCheckoutCmd() *cobra.Command {
	var create bool
	var theirs, ours, force bool
	cmd := &cobra.Command{
		Use:   "checkout <branch-or-commit>",
		Short: "Switch branches or restore the working tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			return repo.WithLock(func() error {
				if create {
					if err := repo.CreateBranch(args[0]); err != nil {
						return err
					}
				}
				return repo.Checkout(cmd.Context(), args[0], oxen.CheckoutOptions{
					Force:  force,
					Theirs: theirs,
					Ours:   ours,
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&create, "branch", "b", false, "create the branch first")
	cmd.Flags().BoolVar(&theirs, "theirs", false, "prefer the target commit's version on conflict")
	cmd.Flags().BoolVar(&ours, "ours", false, "keep the working-tree version on conflict")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "discard uncommitted changes")
	return cmd
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <branch>",
		Short: "Three-way merge a branch into HEAD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			name, email, err := userIdentity()
			if err != nil {
				return err
			}
			var result *oxen.MergeResult
			err = repo.WithLock(func() error {
				var merr error
				result, merr = repo.Merge(cmd.Context(), args[0], name, email)
				return merr
			})
			if err != nil {
				return err
			}
			if result.Conflicted {
				return ekind.New(ekind.MergeConflict, "automatic merge failed; fix conflicts and commit the result")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merge made commit %s\n", result.Commit.ID[:8])
			return nil
		},
	}
}
