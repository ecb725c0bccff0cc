package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newInspectCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Look inside extension blocks",
	}
	cmd.AddCommand(newInspectGGEPCommand(root))
	return cmd
}

func newInspectGGEPCommand(root *rootOptions) *cobra.Command {
	var offset int
	cmd := &cobra.Command{
		Use:   "ggep <hex>...",
		Short: "Scan hex bytes for GGEP blocks and list their keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := decodeHex(strings.Join(args, ""))
			if err != nil {
				return err
			}
			res := ggep.Scan(data, offset)
			if res.Normal == nil && res.Secure == nil {
				return oops.Errorf("no GGEP block after offset %d", offset)
			}
			if root.dump {
				spew.Fdump(cmd.OutOrStdout(), res)
				return nil
			}
			out := cmd.OutOrStdout()
			if res.Normal != nil {
				writeBlock(out, "GGEP", res.Normal, res.NormalStart, res.NormalEnd)
			}
			if res.Secure != nil {
				writeBlock(out, "secure GGEP", res.Secure, res.SecureStart, res.SecureEnd)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "byte offset to start scanning at")
	return cmd
}

func writeBlock(w io.Writer, title string, g *ggep.GGEP, start, end int) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s [%d, %d)", title, start, end)))
	if g.UsesCOBS() {
		writeLabel(w, "encoding", "cobs")
	}
	for _, key := range g.Keys() {
		v, _ := g.Get(key)
		if len(v) == 0 {
			writeLabel(w, key, "(flag)")
			continue
		}
		writeLabel(w, key, hex.EncodeToString(v))
	}
}
