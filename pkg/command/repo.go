// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return ekind.Wrap(ekind.Io, err, "resolve %s", dir)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return ekind.Wrap(ekind.Io, err, "create %s", abs)
			}
			repo, err := oxen.Init(abs, filepath.Base(abs))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized oxen repository in %s\n", repo.Control)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var name, email string
	var auth []string
	var setRemote []string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Set user identity, auth tokens and remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			did := false
			if name != "" || email != "" {
				cfg, err := oxen.LoadUserConfig()
				if err != nil {
					return err
				}
				if name != "" {
					cfg.Name = name
				}
				if email != "" {
					cfg.Email = email
				}
				if err := oxen.SaveUserConfig(cfg); err != nil {
					return err
				}
				did = true
			}
			if len(auth) > 0 {
				if len(auth) != 2 {
					return ekind.New(ekind.InvalidArgument, "--auth takes <host> <token>")
				}
				cfg, err := oxen.LoadAuthConfig()
				if err != nil {
					return err
				}
				cfg.SetToken(auth[0], auth[1])
				if err := oxen.SaveAuthConfig(cfg); err != nil {
					return err
				}
				did = true
			}
			if len(setRemote) > 0 {
				if len(setRemote) != 2 {
					return ekind.New(ekind.InvalidArgument, "--set-remote takes <name> <url>")
				}
				repo, err := openRepo()
				if err != nil {
					return err
				}
				repo.Config.SetRemote(setRemote[0], strings.TrimRight(setRemote[1], "/"))
				if err := repo.SaveConfig(); err != nil {
					return err
				}
				did = true
			}
			if !did {
				return ekind.New(ekind.InvalidArgument, "nothing to configure; see --help")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "author name")
	cmd.Flags().StringVar(&email, "email", "", "author email")
	cmd.Flags().StringSliceVar(&auth, "auth", nil, "host and bearer token")
	cmd.Flags().StringSliceVar(&setRemote, "set-remote", nil, "remote name and url")
	return cmd
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <paths...>",
		Short: "Stage files for the next commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			return repo.WithLock(func() error {
				return repo.Stage.Add(cmd.Context(), args)
			})
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <paths...>",
		Short: "Stage removals for the next commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			return repo.WithLock(func() error {
				return repo.Stage.Rm(args)
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var staged bool
	cmd := &cobra.Command{
		Use:   "restore <paths...>",
		Short: "Unstage paths, or rewrite them from HEAD",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			return repo.WithLock(func() error {
				return repo.Stage.Restore(cmd.Context(), args, oxen.RestoreOptions{Staged: staged})
			})
		},
	}
	cmd.Flags().BoolVar(&staged, "staged", false, "remove from the staging area only")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var skip, limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show staged, modified and untracked paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			if all {
				limit = 0
			}
			data, err := repo.Stage.Status(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}
			printStatus(cmd, data)
			return nil
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "skip the first N results")
	cmd.Flags().IntVar(&limit, "limit", 100, "cap the number of results per section")
	cmd.Flags().BoolVar(&all, "all", false, "show every result")
	return cmd
}

func printStatus(cmd *cobra.Command, data *oxen.StagedData) {
	w := cmd.OutOrStdout()
	section := func(title string, paths []string) {
		if len(paths) == 0 {
			return
		}
		fmt.Fprintf(w, "%s:\n", title)
		for _, p := range paths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	section("Changes to be committed (added)", data.Added)
	section("Changes to be committed (modified)", data.Modified)
	section("Changes to be committed (removed)", data.Removed)
	if len(data.Conflicts) > 0 {
		fmt.Fprintln(w, "Unmerged paths:")
		for _, c := range data.Conflicts {
			fmt.Fprintf(w, "  both modified: %s\n", c.Path)
		}
	}
	section("Untracked files", data.Untracked)
	if len(data.Added)+len(data.Modified)+len(data.Removed)+len(data.Conflicts)+len(data.Untracked) == 0 {
		fmt.Fprintln(w, "nothing to commit, working tree clean")
	}
}

func newCommitCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record staged changes as a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return ekind.New(ekind.InvalidArgument, "commit message is required (-m)")
			}
			repo, err := openRepo()
			if err != nil {
				return err
			}
			name, email, err := userIdentity()
			if err != nil {
				return err
			}
			var commit *oxen.Commit
			err = repo.WithLock(func() error {
				var cerr error
				commit, cerr = repo.Stage.Commit(cmd.Context(), message, name, email)
				return cerr
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", commit.ID[:8], commit.Message)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	return cmd
}

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show first-parent history from HEAD",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			head, err := repo.Refs.ReadHEAD()
			if err != nil {
				return err
			}
			if head.CommitID == "" {
				return ekind.New(ekind.NotFound, "no commits yet")
			}
			commits, err := repo.Log.Walk(head.CommitID)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, c := range commits {
				fmt.Fprintf(w, "commit %s\n", c.ID)
				if c.IsMerge() {
					fmt.Fprintf(w, "Merge: %s %s\n", c.Parents[0][:8], c.Parents[1][:8])
				}
				fmt.Fprintf(w, "Author: %s <%s>\n", c.Author, c.Email)
				fmt.Fprintf(w, "Date:   %s\n\n", c.Timestamp.Format("Mon Jan 2 15:04:05 2006 -0700"))
				fmt.Fprintf(w, "    %s\n\n", c.Message)
			}
			return nil
		},
	}
}
