// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package command is the cobra surface over the core: every RunE is a
// thin adapter that resolves the repository, calls into modules/oxen
// or modules/transfer, and maps the resulting error kind to an exit
// code. No business logic lives here.
package command

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/transfer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "oxen",
		Short:         "Version control for large datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logrus.SetOutput(os.Stderr)
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
	}
	root.AddCommand(
		newInitCmd(),
		newConfigCmd(),
		newAddCmd(),
		newRmCmd(),
		newRestoreCmd(),
		newStatusCmd(),
		newCommitCmd(),
		newLogCmd(),
		newBranchCmd(),
		newCheckoutCmd(),
		newMergeCmd(),
		newCloneCmd(),
		newPushCmd(),
		newPullCmd(),
		newDiffCmd(),
		newDfCmd(),
		newSchemasCmd(),
		newLsCmd(),
		newKvdbInspectCmd(),
		newReadLinesCmd(),
	)
	return root
}

// Execute runs the CLI and maps error kinds to the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "oxen: %v\n", err)
		if ekind.KindOf(err) == ekind.Cancelled {
			return 130
		}
		return 1
	}
	return 0
}

// openRepo discovers the enclosing repository from the working
// directory, the same discovery every subcommand but init/clone needs.
func openRepo() (*oxen.Repository, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "get working directory")
	}
	root, err := oxen.FindRoot(cwd)
	if err != nil {
		return nil, err
	}
	return oxen.Open(root)
}

// userIdentity resolves the author name/email for commits from the
// user-global config.
func userIdentity() (name, email string, err error) {
	cfg, err := oxen.LoadUserConfig()
	if err != nil {
		return "", "", err
	}
	if cfg.Name == "" {
		return "", "", ekind.New(ekind.InvalidArgument, "author identity not set; run `oxen config --name <you> --email <you@host>`")
	}
	return cfg.Name, cfg.Email, nil
}

// remoteClient builds a transfer client for a named remote, attaching
// the bearer token stored for the remote's host, if any.
func remoteClient(repo *oxen.Repository, remoteName string) (*transfer.Client, error) {
	remote, ok := repo.Config.Remote(remoteName)
	if !ok {
		return nil, ekind.New(ekind.RemoteNotSet, "no remote configured; run `oxen config --set-remote <name> <url>`")
	}
	auth, err := oxen.LoadAuthConfig()
	if err != nil {
		return nil, err
	}
	token := ""
	if u, err := url.Parse(remote.URL); err == nil {
		token = auth.Hosts[u.Host]
	}
	return transfer.NewClient(remote.URL, token), nil
}

// currentBranchOr returns arg when non-empty, else the checked-out
// branch name.
func currentBranchOr(repo *oxen.Repository, arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	branch, err := repo.Refs.CurrentBranch()
	if err != nil {
		return "", err
	}
	if branch == "" {
		return "", ekind.New(ekind.NotOnBranch, "HEAD is detached; name a branch explicitly")
	}
	return branch, nil
}
