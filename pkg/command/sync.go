// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/transfer"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// byteBar adapts an mpb bar to the Transfer Engine's Progress counter.
// Totals are unknown up front (negotiation decides what actually
// moves), so the bar runs in dynamic-total mode and is pinned to its
// final count on Done.
type byteBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newByteBar(verb string) *byteBar {
	p := mpb.New(mpb.WithWidth(42), mpb.WithOutput(os.Stderr))
	bar := p.New(0,
		mpb.BarStyle(),
		mpb.PrependDecorators(decor.Name(verb+" ")),
		mpb.AppendDecorators(decor.CurrentKibiByte("% .1f")),
	)
	bar.SetTotal(-1, false)
	return &byteBar{p: p, bar: bar}
}

func (b *byteBar) Add(n int64) { b.bar.IncrInt64(n) }

func (b *byteBar) Done() {
	b.bar.SetTotal(-1, true)
	b.p.Wait()
}

func newCloneCmd() *cobra.Command {
	var shallow bool
	var branch string
	cmd := &cobra.Command{
		Use:   "clone <url> [dest]",
		Short: "Clone a remote repository",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteURL := strings.TrimRight(args[0], "/")
			dest := ""
			if len(args) == 2 {
				dest = args[1]
			} else {
				dest = filepath.Base(remoteURL)
			}
			u, err := url.Parse(remoteURL)
			if err != nil {
				return ekind.Wrap(ekind.InvalidArgument, err, "parse remote url")
			}
			auth, err := oxen.LoadAuthConfig()
			if err != nil {
				return err
			}
			client := transfer.NewClient(remoteURL, auth.Hosts[u.Host])
			bar := newByteBar("pull")
			defer bar.Done()
			repo, err := transfer.Clone(cmd.Context(), remoteURL, dest, client, transfer.CloneOptions{
				Branch:  branch,
				Shallow: shallow,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cloned into %s\n", repo.Root)
			return nil
		},
	}
	cmd.Flags().BoolVar(&shallow, "shallow", false, "history metadata only, no blobs")
	cmd.Flags().StringVar(&branch, "branch", "", "branch to clone (default main)")
	return cmd
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push [remote] [branch]",
		Short: "Upload commits and blobs to a remote",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			remoteName, branchArg := splitRemoteBranch(args)
			branch, err := currentBranchOr(repo, branchArg)
			if err != nil {
				return err
			}
			client, err := remoteClient(repo, remoteName)
			if err != nil {
				return err
			}
			bar := newByteBar("push")
			defer bar.Done()
			return repo.WithLock(func() error {
				return transfer.Push(cmd.Context(), repo, client, branch, bar)
			})
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [remote] [branch]",
		Short: "Download commits and blobs from a remote",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			remoteName, branchArg := splitRemoteBranch(args)
			branch, err := currentBranchOr(repo, branchArg)
			if err != nil {
				return err
			}
			client, err := remoteClient(repo, remoteName)
			if err != nil {
				return err
			}
			bar := newByteBar("pull")
			defer bar.Done()
			return repo.WithLock(func() error {
				return transfer.Pull(cmd.Context(), repo, client, branch, false, bar)
			})
		},
	}
}

func splitRemoteBranch(args []string) (remote, branch string) {
	if len(args) >= 1 {
		remote = args[0]
	}
	if len(args) == 2 {
		branch = args[1]
	}
	return remote, branch
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List things",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remote",
		Short: "List branches on the default remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			client, err := remoteClient(repo, "")
			if err != nil {
				return err
			}
			branches, err := client.ListBranches(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range branches {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.CommitID, b.Name)
			}
			return nil
		},
	})
	return cmd
}
