package cli

import (
	"bytes"
	"encoding/hex"
	"io"
	"net/netip"
	"os"
	"strings"
	"unicode"

	"github.com/go-gnutella/go-gnutella/lib/messages"
	"github.com/go-gnutella/go-gnutella/lib/util"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

type decodeOptions struct {
	hex      bool
	datagram bool
}

func newDecodeCommand(root *rootOptions) *cobra.Command {
	opts := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode [file|-]",
		Short: "Decode framed messages and print them as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := root.settings()
			if err != nil {
				return err
			}
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			data, err := readInput(cmd.InOrStdin(), path, opts.hex)
			if err != nil {
				return err
			}
			network := messages.NETWORK_TCP
			if opts.datagram {
				network = messages.NETWORK_UDP
			}
			return decodeAll(cmd.OutOrStdout(), cmd.ErrOrStderr(), messages.NewFactory(s), data, network, cfg.Message.SoftMax, root.dump)
		},
	}
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "input is hex text; whitespace is ignored")
	cmd.Flags().BoolVar(&opts.datagram, "datagram", false, "input is a single UDP datagram")
	return cmd
}

// readInput returns the raw bytes of path, or of stdin for "-".
func readInput(stdin io.Reader, path string, isHex bool) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		if !util.CheckFileExists(path) {
			return nil, oops.Errorf("input file %s does not exist", path)
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, oops.Wrapf(err, "reading %s", path)
	}
	if !isHex {
		return data, nil
	}
	return decodeHex(string(data))
}

func decodeHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, oops.Wrapf(err, "decoding hex input")
	}
	return b, nil
}

// decodeAll reads messages from data until it runs out. Bad packets are
// reported and skipped; a framing error stops the run.
func decodeAll(out, errOut io.Writer, f *messages.Factory, data []byte, network messages.Network, softMax int, dump bool) error {
	if network == messages.NETWORK_UDP {
		m, err := f.ReadDatagram(data, network, softMax, netip.AddrPort{})
		if err != nil {
			return oops.Wrapf(err, "decoding datagram")
		}
		return writeMessage(out, m, dump)
	}
	r := bytes.NewReader(data)
	count, bad := 0, 0
	for {
		m, err := f.Read(r, network, softMax, netip.AddrPort{})
		switch {
		case err == io.EOF:
			log.WithFields(logger.Fields{
				"at":    "cli.decodeAll",
				"count": count,
				"bad":   bad,
			}).Debug("decode_finished")
			return nil
		case messages.IsBadPacket(err):
			bad++
			writeLabel(errOut, warnStyle.Render("bad packet"), err.Error())
			continue
		case err != nil:
			return oops.Wrapf(err, "after %d messages", count)
		}
		count++
		if err := writeMessage(out, m, dump); err != nil {
			return err
		}
	}
}
