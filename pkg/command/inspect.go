// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/kvstore"
	"github.com/spf13/cobra"
)

// newKvdbInspectCmd dumps any of the repository's embedded keyspaces
// (refs, commits, a history index, staged, merge) for low-level
// debugging.
func newKvdbInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kvdb-inspect <path>",
		Short: "Dump an embedded key-value database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return ekind.Wrap(ekind.NotFound, err, "no database at %s", args[0])
			}
			db, err := kvstore.Open(args[0], true)
			if err != nil {
				return err
			}
			defer db.Close()
			w := cmd.OutOrStdout()
			n := 0
			err = db.ForEach(func(key string, value []byte) (bool, error) {
				fmt.Fprintf(w, "%q\t%s\n", key, value)
				n++
				return true, nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d entries\n", n)
			return nil
		},
	}
}

func newReadLinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-lines <path> [start] [length]",
		Short: "Print a line range of a file",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, length := 0, 10
			var err error
			if len(args) >= 2 {
				if start, err = strconv.Atoi(args[1]); err != nil || start < 0 {
					return ekind.New(ekind.InvalidArgument, "start %q", args[1])
				}
			}
			if len(args) == 3 {
				if length, err = strconv.Atoi(args[2]); err != nil || length <= 0 {
					return ekind.New(ekind.InvalidArgument, "length %q", args[2])
				}
			}
			f, err := os.Open(args[0])
			if err != nil {
				return ekind.Wrap(ekind.Io, err, "open %s", args[0])
			}
			defer f.Close()
			sc := bufio.NewScanner(f)
			sc.Buffer(make([]byte, 1024*1024), 1024*1024)
			w := cmd.OutOrStdout()
			for i := 0; sc.Scan(); i++ {
				if i < start {
					continue
				}
				if i >= start+length {
					break
				}
				fmt.Fprintln(w, sc.Text())
			}
			if err := sc.Err(); err != nil {
				return ekind.Wrap(ekind.Io, err, "read %s", args[0])
			}
			return nil
		},
	}
}
